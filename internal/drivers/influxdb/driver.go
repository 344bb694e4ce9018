package influxdb

import (
	"context"
	"fmt"
	"net/url"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/nerrad567/vdba/internal/vdba"
)

// DriverName is the name the influxdb driver registers under.
const DriverName = "influxdb"

// Default timeouts for InfluxDB operations.
const (
	defaultTimeout     = 10 * time.Second
	defaultPingTimeout = 5 * time.Second
)

func init() {
	vdba.Register(New())
}

// Driver is the InfluxDB driver.
type Driver struct{}

// New returns an influxdb driver.
func New() *Driver { return &Driver{} }

// Name implements vdba.Driver.
func (d *Driver) Name() string { return DriverName }

// Capabilities implements vdba.Driver. Transactions are write batches and
// do not nest.
func (d *Driver) Capabilities() vdba.Capabilities {
	return vdba.Capabilities{
		Kind:         vdba.KindColumn,
		Transactions: true,
	}
}

// Options is the parsed form of a connection config's options.
type Options struct {
	URL     string
	Token   string
	Org     string
	Bucket  string
	Timeout time.Duration
}

// ParseOptions reads and validates the driver options from cfg.
func ParseOptions(cfg vdba.ConnectionConfig) (Options, error) {
	o := Options{
		URL:    cfg.OptionDefault("url", ""),
		Token:  cfg.OptionDefault("token", ""),
		Org:    cfg.OptionDefault("org", ""),
		Bucket: cfg.OptionDefault("bucket", ""),
	}
	for _, req := range []struct{ name, value string }{
		{"url", o.URL}, {"org", o.Org}, {"bucket", o.Bucket},
	} {
		if req.value == "" {
			return Options{}, fmt.Errorf("%w: option %s is required", vdba.ErrUsage, req.name)
		}
	}
	if u, err := url.Parse(o.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return Options{}, fmt.Errorf("%w: option url %q is not an absolute URL", vdba.ErrUsage, o.URL)
	}

	timeout, err := cfg.DurationOption("timeout", defaultTimeout)
	if err != nil {
		return Options{}, fmt.Errorf("%w: %w", vdba.ErrUsage, err)
	}
	if timeout < time.Second {
		return Options{}, fmt.Errorf("%w: option timeout must be at least 1s", vdba.ErrUsage)
	}
	o.Timeout = timeout
	return o, nil
}

// OpenSession implements vdba.Driver.
//
// It performs the following setup:
//  1. Creates the client with token authentication
//  2. Verifies connectivity with a ping
//  3. Prepares the blocking write API and the query API
func (d *Driver) OpenSession(ctx context.Context, cfg vdba.ConnectionConfig) (vdba.Session, error) {
	o, err := ParseOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := influxdb2.NewClientWithOptions(
		o.URL,
		o.Token,
		influxdb2.DefaultOptions().
			SetHTTPRequestTimeout(uint(o.Timeout/time.Second)),
	)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	s := &Session{client: client}
	s.server = &Server{url: o.URL, client: client, guard: &s.guard}
	s.bucket = &Bucket{
		name:     o.Bucket,
		writer:   client.WriteAPIBlocking(o.Org, o.Bucket),
		querier:  client.QueryAPI(o.Org),
		readOnly: cfg.Mode() == vdba.ReadOnly,
		guard:    &s.guard,
	}
	return s, nil
}

// Session is an open InfluxDB client.
type Session struct {
	client influxdb2.Client
	guard  vdba.Guard
	server *Server
	bucket *Bucket
}

// Server implements vdba.Session.
func (s *Session) Server() vdba.Server { return s.server }

// Database implements vdba.Session.
func (s *Session) Database() vdba.Database { return s.bucket }

// Begin implements vdba.Transactor with a write batch.
func (s *Session) Begin(ctx context.Context, mode vdba.Mode) (vdba.Tx, error) {
	if err := s.guard.Check(); err != nil {
		return nil, err
	}
	return newBatch(s.bucket, mode == vdba.ReadOnly), nil
}

// Close implements vdba.Session. The client's Close doesn't report errors.
func (s *Session) Close(context.Context) error {
	s.guard.Invalidate()
	s.client.Close()
	return nil
}

// Server is the InfluxDB server handle.
type Server struct {
	url    string
	client influxdb2.Client
	guard  *vdba.Guard
}

// Address implements vdba.Server.
func (s *Server) Address() string { return s.url }

// Ping verifies the server is alive and healthy.
func (s *Server) Ping(ctx context.Context) error {
	if err := s.guard.Check(); err != nil {
		return err
	}
	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := s.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}
