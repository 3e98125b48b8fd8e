package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/joshp123/airbridge/internal/accessory"
	"github.com/joshp123/airbridge/internal/core"
	"github.com/joshp123/airbridge/internal/server"
)

type accessoryHealth struct {
	UUID     string          `json:"uuid"`
	DeviceID string          `json:"deviceId"`
	Name     string          `json:"name"`
	Service  string          `json:"service"`
	Health   json.RawMessage `json:"health"`
}

func accessoriesCmd(ctx context.Context, args []string) {
	flags := flag.NewFlagSet("accessories", flag.ExitOnError)
	asJSON := flags.Bool("json", false, "print JSON")
	_ = flags.Parse(args)
	out := outputMode{json: *asJSON}

	var snaps []accessory.Snapshot
	if err := getJSON(ctx, "/api/accessories", &snaps); err != nil {
		fatal("list accessories", err)
	}

	conn := dial(ctx)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	results := make([]accessoryHealth, 0, len(snaps))
	rows := make([][]string, 0, len(snaps))
	for _, snap := range snaps {
		service := server.AccessoryServiceName(snap.DeviceID)
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			fatal("check "+service, err)
		}
		raw, err := protojson.Marshal(resp)
		if err != nil {
			fatal("format health", err)
		}
		results = append(results, accessoryHealth{
			UUID:     snap.UUID,
			DeviceID: snap.DeviceID,
			Name:     snap.Name,
			Service:  service,
			Health:   raw,
		})
		leak := "-"
		if snap.RadonLeak != nil {
			leak = fmt.Sprintf("%t", *snap.RadonLeak)
		}
		rows = append(rows, []string{
			snap.Name,
			snap.DeviceID,
			resp.GetStatus().String(),
			formatValue(snap.RadonLevel, snap.RadonUnit),
			leak,
			fmt.Sprintf("%t", snap.Orphaned),
		})
	}

	if out.json {
		out.printJSON(results)
		return
	}
	out.table([]string{"NAME", "DEVICE", "HEALTH", "RADON", "LEAK", "ORPHANED"}, rows)
}

func accessoryCmd(ctx context.Context, args []string) {
	if len(args) < 1 {
		fatal("accessory", fmt.Errorf("missing accessory name or uuid"))
	}

	var snaps []accessory.Snapshot
	if err := getJSON(ctx, "/api/accessories", &snaps); err != nil {
		fatal("list accessories", err)
	}
	snap, err := resolveAccessory(strings.Join(args, " "), snaps)
	if err != nil {
		fatal("resolve", err)
	}
	outputMode{json: true}.printJSON(snap)
}

func pluginsCmd(ctx context.Context, args []string) {
	flags := flag.NewFlagSet("plugins", flag.ExitOnError)
	asJSON := flags.Bool("json", false, "print JSON")
	_ = flags.Parse(args)
	out := outputMode{json: *asJSON}

	var plugins []core.PluginSummary
	if err := getJSON(ctx, "/api/plugins", &plugins); err != nil {
		fatal("list plugins", err)
	}
	if out.json {
		out.printJSON(plugins)
		return
	}
	rows := make([][]string, 0, len(plugins))
	for _, p := range plugins {
		rows = append(rows, []string{p.PluginID, p.DisplayName, p.Version, p.Status, p.HealthMessage})
	}
	out.table([]string{"ID", "NAME", "VERSION", "STATUS", "MESSAGE"}, rows)
}

func discoverCmd(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resolveHTTPBase()+"/api/discover", nil)
	if err != nil {
		fatal("discover", err)
	}
	var result map[string]any
	if err := doJSON(req, &result); err != nil {
		fatal("discover", err)
	}
	outputMode{json: true}.printJSON(result)
}

func getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolveHTTPBase()+path, nil)
	if err != nil {
		return err
	}
	return doJSON(req, out)
}

func doJSON(req *http.Request, out any) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}
