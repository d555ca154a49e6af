// Command gkctl is a CLI client for the gatekeeper gRPC validation gateway.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	grpcserver "github.com/and161185/gatekeeper/internal/server/grpc"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

var errUsage = errors.New("usage")

// ---- transport ----

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func dial(addr, caPath string, skipVerify, plaintext bool) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	if !plaintext {
		var err error
		if creds, err = loadTLS(caPath, skipVerify); err != nil {
			return nil, err
		}
	}
	return grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
}

// withCaller attaches the service credentials the gateway expects.
func withCaller(ctx context.Context, apiKey, origin string) context.Context {
	kv := []string{"x-api-key", apiKey}
	if origin != "" {
		kv = append(kv, "origin", origin)
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}

// ---- commands ----

type options struct {
	apiKey string
	origin string
}

func run(ctx context.Context, cc grpc.ClientConnInterface, opts options, args []string, out io.Writer) error {
	if len(args) < 1 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "version":
		_, err := fmt.Fprintf(out, "gkctl %s (%s)\n", version, buildDate)
		return err

	case "health":
		resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcserver.ServiceName})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, resp.GetStatus().String())
		return err

	case "validate":
		if len(rest) != 1 || opts.apiKey == "" {
			return errUsage
		}
		in, err := structpb.NewStruct(map[string]any{"token": rest[0]})
		if err != nil {
			return err
		}
		return invoke(withCaller(ctx, opts.apiKey, opts.origin), cc, grpcserver.MethodValidateToken, in, out)

	case "check-roles":
		if len(rest) != 2 || opts.apiKey == "" {
			return errUsage
		}
		var roles []any
		for _, r := range strings.Split(rest[1], ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}
		if len(roles) == 0 {
			return errUsage
		}
		in, err := structpb.NewStruct(map[string]any{"token": rest[0], "requiredRoles": roles})
		if err != nil {
			return err
		}
		return invoke(withCaller(ctx, opts.apiKey, opts.origin), cc, grpcserver.MethodCheckRoles, in, out)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func invoke(ctx context.Context, cc grpc.ClientConnInterface, method string, in *structpb.Struct, out io.Writer) error {
	resp := new(structpb.Struct)
	if err := cc.Invoke(ctx, method, in, resp); err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp.AsMap())
}

func usage() {
	fmt.Fprintf(os.Stderr, `gkctl
Usage:
  gkctl --addr HOST:PORT [--cacert file | --insecure | --plaintext] [--api-key KEY] [--origin URL] <cmd> [args]

Commands:
  version
  health
  validate     <access-token>
  check-roles  <access-token> <role[,role...]>

The API key may also be supplied via GK_API_KEY.
`)
}

func main() {
	addr := pflag.String("addr", "localhost:3001", "gateway address")
	caPath := pflag.String("cacert", "", "CA cert (PEM)")
	skipVerify := pflag.Bool("insecure", false, "skip cert verify (dev)")
	plaintext := pflag.Bool("plaintext", false, "connect without TLS")
	apiKey := pflag.String("api-key", os.Getenv("GK_API_KEY"), "service API key")
	origin := pflag.String("origin", "", "origin to present to the gateway")
	timeout := pflag.Duration("timeout", 10*time.Second, "request timeout")
	pflag.Usage = usage
	pflag.Parse()

	cc, err := dial(*addr, *caPath, *skipVerify, *plaintext)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial:", err)
		os.Exit(1)
	}
	defer cc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	err = run(ctx, cc, options{apiKey: *apiKey, origin: *origin}, pflag.Args(), os.Stdout)
	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		usage()
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
