package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joshp123/airbridge/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "services":
		conn := dial(ctx)
		defer conn.Close()
		servicesCmd(ctx, conn)
	case "methods":
		conn := dial(ctx)
		defer conn.Close()
		methodsCmd(ctx, conn, os.Args[2:])
	case "call":
		conn := dial(ctx)
		defer conn.Close()
		callCmd(ctx, conn, os.Args[2:])
	case "accessories":
		accessoriesCmd(ctx, os.Args[2:])
	case "accessory":
		accessoryCmd(ctx, os.Args[2:])
	case "plugins":
		pluginsCmd(ctx, os.Args[2:])
	case "discover":
		discoverCmd(ctx)
	default:
		usage()
		os.Exit(2)
	}
}

func dial(ctx context.Context) *grpc.ClientConn {
	addr := resolveGRPCAddr()
	conn, err := grpcurl.BlockingDial(ctx, "tcp", addr, insecure.NewCredentials())
	if err != nil {
		fatal("dial "+addr, err)
	}
	return conn
}

func servicesCmd(ctx context.Context, conn *grpc.ClientConn) {
	descSource := reflectionSource(ctx, conn)
	services, err := grpcurl.ListServices(descSource)
	if err != nil {
		fatal("list services", err)
	}

	for _, service := range services {
		fmt.Println(service)
	}
}

func methodsCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	if len(args) < 1 {
		fatal("methods", fmt.Errorf("missing service name"))
	}

	descSource := reflectionSource(ctx, conn)
	methods, err := grpcurl.ListMethods(descSource, args[0])
	if err != nil {
		fatal("list methods", err)
	}

	for _, method := range methods {
		fmt.Println(method)
	}
}

func callCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	flags := flag.NewFlagSet("call", flag.ExitOnError)
	data := flags.String("data", "", "JSON request body")
	_ = flags.Parse(args)
	remaining := flags.Args()
	if len(remaining) < 1 {
		fatal("call", fmt.Errorf("missing method (service/method)"))
	}

	descSource := reflectionSource(ctx, conn)

	var reader io.Reader
	switch {
	case *data != "":
		reader = strings.NewReader(*data)
	case isStdinTerminal():
		reader = strings.NewReader("{}")
	default:
		reader = os.Stdin
	}

	parser, formatter, err := grpcurl.RequestParserAndFormatter(grpcurl.FormatJSON, descSource, reader, grpcurl.FormatOptions{})
	if err != nil {
		fatal("parse request", err)
	}

	handler := grpcurl.NewDefaultEventHandler(os.Stdout, descSource, formatter, false)
	if err := grpcurl.InvokeRPC(ctx, descSource, conn, remaining[0], nil, handler, parser.Next); err != nil {
		fatal("invoke", err)
	}
	if handler.Status != nil && handler.Status.Err() != nil {
		fatal("invoke", handler.Status.Err())
	}
}

func reflectionSource(ctx context.Context, conn *grpc.ClientConn) grpcurl.DescriptorSource {
	client := grpcreflect.NewClientAuto(ctx, conn)
	return grpcurl.DescriptorSourceFromServer(ctx, client)
}

func isStdinTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return true
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func resolveGRPCAddr() string {
	if value := os.Getenv("AIRBRIDGE_GRPC_ADDR"); value != "" {
		return value
	}
	if cfg := loadConfig(); cfg != nil {
		return localAddr(cfg.Core.GRPCAddr)
	}
	return "localhost:9000"
}

func resolveHTTPBase() string {
	if value := os.Getenv("AIRBRIDGE_HTTP_URL"); value != "" {
		return strings.TrimRight(value, "/")
	}
	if cfg := loadConfig(); cfg != nil {
		return "http://" + localAddr(cfg.Core.HTTPAddr)
	}
	return "http://localhost:8080"
}

func loadConfig() *config.Config {
	path := config.DefaultPath
	if value := os.Getenv("AIRBRIDGE_CONFIG"); value != "" {
		path = value
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil
	}
	return cfg
}

// localAddr turns a wildcard listen address into one a client can dial.
func localAddr(addr string) string {
	for _, wildcard := range []string{"0.0.0.0:", "[::]:", ":"} {
		if strings.HasPrefix(addr, wildcard) {
			return "localhost:" + strings.TrimPrefix(addr, wildcard)
		}
	}
	return addr
}

func usage() {
	fmt.Println("airbridge-cli <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  accessories [--json]          list accessories with their gRPC health")
	fmt.Println("  accessory <name|uuid>         show the latest snapshot of one accessory")
	fmt.Println("  plugins [--json]")
	fmt.Println("  discover                      run a device discovery now")
	fmt.Println("  services")
	fmt.Println("  methods <service>")
	fmt.Println("  call <service/method> --data '{}' (or pipe JSON via stdin)")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
