// tablectl sends one command to the table over UDP and prints what the
// table answered.
//
// Usage:
//
//	tablectl [flags] set <device> <value> [seconds]
//	tablectl [flags] get [device]
//	tablectl [flags] stop [device]
//	tablectl [flags] status
//	tablectl [flags] token
//
// A missing device, or "all", addresses the whole table. status asks every
// device for its position and prints the controller cache. token prints a
// bearer token for the GeoModel API signed with --secret.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/geomodel-core/internal/api"
	"github.com/nerrad567/geomodel-core/internal/infrastructure/config"
	"github.com/nerrad567/geomodel-core/internal/table"
)

// errUsage marks command line mistakes.
var errUsage = errors.New("usage")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// cliOptions holds the parsed flags.
type cliOptions struct {
	host      string
	port      int
	codec     string
	timeout   time.Duration
	jsonOut   bool
	rawStatus bool
	secret    string
	subject   string
	ttl       time.Duration
	arguments []string
}

func parseFlags(args []string, stderr io.Writer) (cliOptions, error) {
	defaults := config.Defaults()
	var opts cliOptions

	flagSet := pflag.NewFlagSet("tablectl", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.host, "host", "H", defaults.Table.UDP.Host, "table address")
	flagSet.IntVarP(&opts.port, "port", "p", defaults.Table.UDP.Port, "table UDP port")
	flagSet.StringVar(&opts.codec, "codec", defaults.Table.Codec, "wire codec: text, proto or cbor")
	flagSet.DurationVarP(&opts.timeout, "timeout", "t", 2*time.Second, "how long to wait for replies")
	flagSet.BoolVar(&opts.jsonOut, "json", false, "print responses as JSON")
	flagSet.BoolVar(&opts.rawStatus, "raw-status", false, "status: cache the status the table sent instead of forcing OK")
	flagSet.StringVar(&opts.secret, "secret", defaults.API.Auth.JWTSecret, "token: API signing secret (default $GEOMODEL_API_JWT_SECRET)")
	flagSet.StringVar(&opts.subject, "subject", "tablectl", "token: who the token is issued to")
	flagSet.DurationVar(&opts.ttl, "ttl", api.DefaultTokenTTL, "token: lifetime")
	flagSet.Usage = func() {
		fmt.Fprint(stderr, `tablectl sends one command to the table and prints the reply.

Usage:
  tablectl [flags] set <device> <value> [seconds]
  tablectl [flags] get [device]
  tablectl [flags] stop [device]
  tablectl [flags] status
  tablectl [flags] token

Devices: pitch, roll, upper, lower, pump (or all)

Flags:
`)
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		return cliOptions{}, err
	}
	opts.arguments = flagSet.Args()
	if len(opts.arguments) == 0 {
		flagSet.Usage()
		return cliOptions{}, fmt.Errorf("%w: missing command", errUsage)
	}
	return opts, nil
}

// parseCommand turns the positional arguments into the requests to send.
// status expands to a GET for every declared device.
func parseCommand(args []string) ([]table.Request, error) {
	verb := strings.ToLower(args[0])
	rest := args[1:]

	device := func(i int) (table.Device, error) {
		if len(rest) <= i || strings.EqualFold(rest[i], "all") {
			return table.Unknown, nil
		}
		return table.ParseDevice(rest[i])
	}

	switch verb {
	case "status":
		if len(rest) > 0 {
			return nil, fmt.Errorf("%w: status takes no arguments", errUsage)
		}
		var reqs []table.Request
		for _, d := range table.Devices() {
			reqs = append(reqs, table.NewGet(d))
		}
		return reqs, nil

	case "get", "stop":
		if len(rest) > 1 {
			return nil, fmt.Errorf("%w: %s takes at most one device", errUsage, verb)
		}
		d, err := device(0)
		if err != nil {
			return nil, err
		}
		if verb == "get" && d == table.Unknown {
			// The table answers a whole-table GET with BADPARAM.
			return parseCommand([]string{"status"})
		}
		req := table.NewStop(d)
		if verb == "get" {
			req = table.NewGet(d)
		}
		return []table.Request{req}, nil

	case "set":
		if len(rest) < 2 || len(rest) > 3 {
			return nil, fmt.Errorf("%w: set <device> <value> [seconds]", errUsage)
		}
		d, err := table.ParseDevice(rest[0])
		if err != nil {
			return nil, err
		}
		value, err := strconv.ParseFloat(rest[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: value %q is not a number", errUsage, rest[1])
		}
		seconds := 0
		if len(rest) == 3 {
			if seconds, err = strconv.Atoi(rest[2]); err != nil {
				return nil, fmt.Errorf("%w: seconds %q is not a whole number", errUsage, rest[2])
			}
		}
		req := table.NewSet(d, value, seconds)
		if err := req.Validate(); err != nil {
			return nil, err
		}
		return []table.Request{req}, nil

	default:
		return nil, fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if strings.EqualFold(opts.arguments[0], "token") {
		return mintToken(stdout, opts)
	}
	reqs, err := parseCommand(opts.arguments)
	if err != nil {
		return err
	}

	codec, err := table.NewCodec(opts.codec)
	if err != nil {
		return err
	}
	conn := table.NewUDPConnection(table.UDPOptions{
		Host:  opts.host,
		Port:  opts.port,
		Codec: codec,
	})

	responses, err := exchange(ctx, conn, reqs, opts)
	if err != nil {
		return err
	}
	return printResponses(stdout, responses, opts.jsonOut)
}

// mintToken prints a signed API token.
func mintToken(w io.Writer, opts cliOptions) error {
	if len(opts.arguments) > 1 {
		return fmt.Errorf("%w: token takes no arguments", errUsage)
	}
	if opts.secret == "" {
		return fmt.Errorf("%w: token needs --secret or GEOMODEL_API_JWT_SECRET", errUsage)
	}
	token, err := api.GenerateToken(opts.subject, opts.secret, opts.ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// exchange sends reqs through a controller and collects one reply per
// request, or whatever arrived when the timeout expires. The controller
// cache is returned for status, and the raw replies otherwise.
func exchange(ctx context.Context, conn table.Connection, reqs []table.Request, opts cliOptions) ([]table.Response, error) {
	policy := table.StatusForceOK
	if opts.rawStatus {
		policy = table.StatusPassThrough
	}
	ctrl := table.NewController(conn, table.ControllerOptions{StatusPolicy: policy})

	if err := ctrl.Connect(); err != nil {
		return nil, err
	}
	defer ctrl.Disconnect()

	// Registered after Connect so the controller sees each reply first and
	// the cache is complete once the last reply arrives here.
	replies := make(chan table.Response, len(reqs)+8)
	conn.AddListener(table.ResponseListenerFunc(func(rs []table.Response) {
		for _, r := range rs {
			select {
			case replies <- r:
			default:
			}
		}
	}))

	for _, req := range reqs {
		ctrl.SendRequest(req)
	}

	timer := time.NewTimer(opts.timeout)
	defer timer.Stop()

	var got []table.Response
	for len(got) < len(reqs) {
		select {
		case r := <-replies:
			got = append(got, r)
		case <-timer.C:
			if len(got) == 0 {
				return nil, fmt.Errorf("no reply from %s:%d within %s", opts.host, opts.port, opts.timeout)
			}
			return got, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if len(reqs) > 1 {
		return ctrl.CurrentValues(), nil
	}
	return got, nil
}

// printResponses writes responses as an aligned table or as JSON.
func printResponses(w io.Writer, responses []table.Response, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(responses)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tSTATUS\tVALUE\tUNIT\tSECONDS")
	for _, r := range responses {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%d\n", r.Device, r.Status, r.Value, r.Device.Range().Unit, r.Seconds)
	}
	return tw.Flush()
}
