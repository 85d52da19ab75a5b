// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"github.com/cloudlift/cloudlift/core/migration"
)

// vpcPipeline replicates a network container: the VPC itself, its
// subnets, gateways, security groups, and route tables. Identifiers
// all change; each step persists a source-to-target mapping that the
// later steps rewrite references through.
var vpcPipeline = pipeline{
	steps: []step{
		{"analyze_vpc", stepAnalyzeVPC},
		{"create_vpc", stepCreateVPC},
		{"create_subnets", stepCreateSubnets},
		{"create_internet_gateway", stepCreateInternetGateway},
		{"create_nat_gateways", stepCreateNATGateways},
		{"replicate_security_groups", stepReplicateVPCGroups},
		{"create_route_tables", stepCreateRouteTables},
	},
	targetID: func(rec *migration.Record) string {
		return rec.StepData("create_vpc")["vpc_id"]
	},
}

// mapKey prefixes source ids in step data, so a single flat map can
// carry both scalar results and an id mapping.
const mapKeyPrefix = "map:"

func mapKey(sourceID string) string {
	return mapKeyPrefix + sourceID
}

// mapping extracts the source-to-target id mapping a completed step
// stored.
func (r *run) mapping(stepName string) map[string]string {
	out := make(map[string]string)
	for key, value := range r.rec.StepData(stepName) {
		if strings.HasPrefix(key, mapKeyPrefix) {
			out[strings.TrimPrefix(key, mapKeyPrefix)] = value
		}
	}
	return out
}

func stepAnalyzeVPC(ctx context.Context, r *run) (migration.StepData, error) {
	topo, err := r.source.Inventory.DescribeVPC(ctx, r.sourceID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	logger.Infof("vpc %q (%s): %d subnet(s), %d nat gateway(s), %d security group(s), %d route table(s)",
		topo.ID, topo.CIDR, len(topo.Subnets), len(topo.NATGateways), len(topo.SecurityGroups), len(topo.RouteTables))
	name := topo.Name
	if name == "" {
		name = topo.ID
	}
	return migration.StepData{
		"cidr":          topo.CIDR,
		"name":          name,
		"dns_support":   strconv.FormatBool(topo.DNSSupport),
		"dns_hostnames": strconv.FormatBool(topo.DNSHostnames),
	}, nil
}

func stepCreateVPC(ctx context.Context, r *run) (migration.StepData, error) {
	cidr := r.params.TargetCIDR
	if cidr == "" {
		cidr = r.data("analyze_vpc", "cidr")
	}
	// An interrupted earlier run, or a manual pre-creation, may have
	// left a matching VPC behind. Reuse it rather than mint a twin;
	// its attributes and tags are left alone.
	existing, err := r.target.Inventory.VPCByCIDR(ctx, cidr)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if existing != "" {
		logger.Infof("reusing existing vpc %q for %s", existing, cidr)
		return migration.StepData{"vpc_id": existing, "cidr": cidr, "reused": "true"}, nil
	}
	vpcID, err := r.target.Mutator.CreateVPC(ctx, cidr)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := r.addCreated(migration.VPC, vpcID, r.target.AccountID); err != nil {
		return nil, errors.Trace(err)
	}
	dnsSupport, _ := strconv.ParseBool(r.data("analyze_vpc", "dns_support"))
	dnsHostnames, _ := strconv.ParseBool(r.data("analyze_vpc", "dns_hostnames"))
	if err := r.target.Mutator.SetVPCAttributes(ctx, vpcID, dnsSupport, dnsHostnames); err != nil {
		return nil, errors.Trace(err)
	}
	if err := r.target.Mutator.Tag(ctx, vpcID, map[string]string{
		"Name":         r.data("analyze_vpc", "name"),
		"MigratedFrom": r.sourceID,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return migration.StepData{"vpc_id": vpcID, "cidr": cidr}, nil
}

func stepCreateSubnets(ctx context.Context, r *run) (migration.StepData, error) {
	topo, err := r.source.Inventory.DescribeVPC(ctx, r.sourceID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	targetVPC := r.data("create_vpc", "vpc_id")
	data := migration.StepData{}
	for _, subnet := range topo.Subnets {
		// A subnet with this CIDR may already exist, left by a run
		// that died partway through this step. Map it and move on.
		existing, err := r.target.Inventory.SubnetByCIDR(ctx, targetVPC, subnet.CIDR)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if existing != "" {
			logger.Infof("reusing existing subnet %q for %s", existing, subnet.CIDR)
			data[mapKey(subnet.ID)] = existing
			continue
		}
		// Zone names are account-local; they only carry over when
		// both connections are in the same region.
		zone := subnet.AvailabilityZone
		if r.source.Region != r.target.Region {
			zone = ""
		}
		subnetID, err := r.target.Mutator.CreateSubnet(ctx, targetVPC, subnet.CIDR, zone, subnet.MapPublicIP)
		if err != nil {
			return nil, errors.Annotatef(err, "replicating subnet %q", subnet.ID)
		}
		if err := r.addCreated(migration.Subnet, subnetID, r.target.AccountID); err != nil {
			return nil, errors.Trace(err)
		}
		if subnet.Name != "" {
			if err := r.target.Mutator.Tag(ctx, subnetID, map[string]string{"Name": subnet.Name}); err != nil {
				return nil, errors.Trace(err)
			}
		}
		data[mapKey(subnet.ID)] = subnetID
	}
	return data, nil
}

func stepCreateInternetGateway(ctx context.Context, r *run) (migration.StepData, error) {
	topo, err := r.source.Inventory.DescribeVPC(ctx, r.sourceID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !topo.HasInternetGW {
		return migration.StepData{"required": "false"}, nil
	}
	igwID, err := r.target.Mutator.CreateInternetGateway(ctx, r.data("create_vpc", "vpc_id"))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := r.addCreated(migration.InternetGateway, igwID, r.target.AccountID); err != nil {
		return nil, errors.Trace(err)
	}
	return migration.StepData{"required": "true", "internet_gateway_id": igwID}, nil
}

func stepCreateNATGateways(ctx context.Context, r *run) (migration.StepData, error) {
	topo, err := r.source.Inventory.DescribeVPC(ctx, r.sourceID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	subnets := r.mapping("create_subnets")
	data := migration.StepData{}
	for _, nat := range topo.NATGateways {
		targetSubnet, ok := subnets[nat.SubnetID]
		if !ok {
			return nil, errors.NotFoundf("replicated subnet for nat gateway %q", nat.ID)
		}
		allocationID, _, err := r.target.Mutator.AllocateElasticIP(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if err := r.addCreated(migration.ElasticIP, allocationID, r.target.AccountID); err != nil {
			return nil, errors.Trace(err)
		}
		natID, err := r.target.Mutator.CreateNATGateway(ctx, targetSubnet, allocationID)
		if err != nil {
			return nil, errors.Annotatef(err, "replicating nat gateway %q", nat.ID)
		}
		if err := r.addCreated(migration.NATGateway, natID, r.target.AccountID); err != nil {
			return nil, errors.Trace(err)
		}
		// Routes cannot reference a NAT gateway until it is up.
		err = r.waitFor(ctx, fmt.Sprintf("nat gateway %s", natID), natReady, r.orch.waitTimeout,
			func(ctx context.Context) (string, error) {
				return r.target.Inventory.NATGatewayState(ctx, natID)
			})
		if err != nil {
			return nil, errors.Trace(err)
		}
		data[mapKey(nat.ID)] = natID
	}
	return data, nil
}

func stepReplicateVPCGroups(ctx context.Context, r *run) (migration.StepData, error) {
	topo, err := r.source.Inventory.DescribeVPC(ctx, r.sourceID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	result, err := r.replicateGroups(ctx, topo.SecurityGroups, r.data("create_vpc", "vpc_id"))
	if err != nil {
		return nil, errors.Trace(err)
	}
	data := migration.StepData{}
	for sourceID, targetID := range result.Mapping {
		data[mapKey(sourceID)] = targetID
	}
	return data, nil
}

func stepCreateRouteTables(ctx context.Context, r *run) (migration.StepData, error) {
	topo, err := r.source.Inventory.DescribeVPC(ctx, r.sourceID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	targetVPC := r.data("create_vpc", "vpc_id")
	subnets := r.mapping("create_subnets")
	nats := r.mapping("create_nat_gateways")
	igwID := r.data("create_internet_gateway", "internet_gateway_id")

	data := migration.StepData{}
	for _, table := range topo.RouteTables {
		var targetTable string
		if table.Main {
			// The implicit main table already exists in the new VPC;
			// its routes are applied there instead of recreating it.
			targetTable, err = r.target.Inventory.MainRouteTable(ctx, targetVPC)
			if err != nil {
				return nil, errors.Trace(err)
			}
		} else {
			targetTable, err = r.target.Mutator.CreateRouteTable(ctx, targetVPC)
			if err != nil {
				return nil, errors.Annotatef(err, "replicating route table %q", table.ID)
			}
			if err := r.addCreated(migration.RouteTable, targetTable, r.target.AccountID); err != nil {
				return nil, errors.Trace(err)
			}
			if table.Name != "" {
				if err := r.target.Mutator.Tag(ctx, targetTable, map[string]string{"Name": table.Name}); err != nil {
					return nil, errors.Trace(err)
				}
			}
		}

		for _, route := range table.Routes {
			target := route
			switch {
			case route.NATGatewayID != "":
				natID, ok := nats[route.NATGatewayID]
				if !ok {
					logger.Warningf("route to %s references unreplicated nat gateway %q; skipping",
						route.DestinationCIDR, route.NATGatewayID)
					continue
				}
				target.NATGatewayID = natID
			case strings.HasPrefix(route.GatewayID, "igw-"):
				if igwID == "" {
					logger.Warningf("route to %s needs an internet gateway the source VPC lacks; skipping",
						route.DestinationCIDR)
					continue
				}
				target.GatewayID = igwID
			default:
				logger.Warningf("route to %s via %q is not replicable; skipping",
					route.DestinationCIDR, route.GatewayID)
				continue
			}
			err := r.target.Mutator.CreateRoute(ctx, targetTable, target)
			if err != nil && !errors.Is(err, errors.AlreadyExists) {
				return nil, errors.Trace(err)
			}
		}

		for _, subnetID := range table.SubnetIDs {
			targetSubnet, ok := subnets[subnetID]
			if !ok {
				return nil, errors.NotFoundf("replicated subnet %q for route table %q", subnetID, table.ID)
			}
			err := r.target.Mutator.AssociateRouteTable(ctx, targetTable, targetSubnet)
			if err != nil && !errors.Is(err, errors.AlreadyExists) {
				return nil, errors.Trace(err)
			}
		}
		data[mapKey(table.ID)] = targetTable
	}
	return data, nil
}
