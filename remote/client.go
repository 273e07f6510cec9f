// Package remote performs uplink-and-optional-downlink call to cloud backend.
// One TCP (optionally TLS) connection per call, no retries.
package remote

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"io/ioutil"
	"net"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/iotgw/helpers"
	"github.com/temoto/iotgw/log2"
)

const (
	DefaultHost           = "dashboard.safeandclean.be"
	DefaultPath           = "/mobile/webhook"
	DefaultResponseMax    = 4096
	DefaultNetworkTimeout = 30 * time.Second
	ResponseMaxMin        = 256
	FieldMaxLength        = 32
)

type Config struct { //nolint:maligned
	Host              string `hcl:"host"`
	Port              int    `hcl:"port"`
	Path              string `hcl:"path"`
	DeviceID          string `hcl:"device_id"`
	TLS               bool   `hcl:"tls"`
	TLSCaFile         string `hcl:"tls_ca_file"`
	TLSInsecure       bool   `hcl:"tls_insecure"`
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
	ResponseMax       int    `hcl:"response_max"`
}

func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.Port == 0 {
		if c.TLS {
			c.Port = 443
		} else {
			c.Port = 80
		}
	}
	if c.ResponseMax == 0 {
		c.ResponseMax = DefaultResponseMax
	}
}

func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return errors.NotValidf("server.device_id empty")
	}
	if len(c.DeviceID) > FieldMaxLength {
		return errors.NotValidf("server.device_id length=%d > %d", len(c.DeviceID), FieldMaxLength)
	}
	if len(c.Path) > FieldMaxLength {
		return errors.NotValidf("server.path length=%d > %d", len(c.Path), FieldMaxLength)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.NotValidf("server.port=%d", c.Port)
	}
	if c.ResponseMax < ResponseMaxMin {
		return errors.NotValidf("server.response_max=%d < %d", c.ResponseMax, ResponseMaxMin)
	}
	return nil
}

func (c Config) Addr() string { return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) }

type Client struct {
	config    Config
	log       *log2.Log
	seq       uint32
	tlsConfig *tls.Config
	timeout   time.Duration

	// Now is replaceable clock for tests.
	Now func() time.Time
}

func NewClient(config Config, log *log2.Log) (*Client, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	self := &Client{
		config:  config,
		log:     log,
		timeout: helpers.IntSecondDefault(config.NetworkTimeoutSec, DefaultNetworkTimeout),
		Now:     time.Now,
	}
	if config.TLS {
		self.tlsConfig = &tls.Config{
			ServerName:         config.Host,
			InsecureSkipVerify: config.TLSInsecure, //nolint:gosec
		}
		if config.TLSCaFile != "" {
			cabytes, err := ioutil.ReadFile(config.TLSCaFile)
			if err != nil {
				return nil, errors.Annotate(err, "server TLS CA")
			}
			self.tlsConfig.RootCAs = x509.NewCertPool()
			if !self.tlsConfig.RootCAs.AppendCertsFromPEM(cabytes) {
				return nil, errors.NotValidf("server TLS CA file=%s no certificates", config.TLSCaFile)
			}
		}
	}
	return self, nil
}

func (self *Client) Config() Config { return self.config }

// Seq returns sequence number for next request.
func (self *Client) Seq() uint32 { return self.seq }

// BuildRequest uses then increments sequence number.
func (self *Client) BuildRequest(payload []byte) Request {
	r := NewRequest(&self.config, payload, self.seq, self.Now().Unix())
	self.seq++
	return r
}

// Send performs one request/response round trip.
// Any error means remote call failed, cause is one of: net/TLS errors,
// ErrResponseTooLarge, ErrMalformedStatusLine, UnsupportedStatusError, ErrMalformedPayload.
func (self *Client) Send(ctx context.Context, req *Request) (Reply, error) {
	raw, err := self.roundTrip(ctx, req.Bytes())
	if err != nil {
		return Reply{}, errors.Annotatef(err, "remote %s", self.config.Addr())
	}
	self.log.Debugf("remote response=%q", raw)
	reply, err := ParseResponse(raw)
	if err != nil {
		return reply, errors.Annotatef(err, "remote %s", self.config.Addr())
	}
	return reply, nil
}

func (self *Client) roundTrip(ctx context.Context, request []byte) ([]byte, error) {
	deadline := time.Now().Add(self.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", self.config.Addr())
	if err != nil {
		return nil, errors.Annotate(err, "connect")
	}
	defer conn.Close()
	if err = conn.SetDeadline(deadline); err != nil {
		return nil, errors.Annotate(err, "deadline")
	}
	if self.tlsConfig != nil {
		tconn := tls.Client(conn, self.tlsConfig)
		if err = tconn.HandshakeContext(ctx); err != nil {
			return nil, errors.Annotate(err, "TLS handshake")
		}
		defer tconn.Close()
		conn = tconn
	}

	self.log.Infof("remote request=%q", request)
	if err = helpers.WriteAll(conn, request); err != nil {
		return nil, errors.Annotate(err, "write")
	}

	buf := make([]byte, self.config.ResponseMax)
	n := 0
	for {
		if n == len(buf) {
			return nil, errors.Annotatef(ErrResponseTooLarge, "max=%d", len(buf))
		}
		m, err := conn.Read(buf[n:])
		n += m
		if err == io.EOF || (err == nil && responseComplete(buf[:n])) {
			break
		}
		if err != nil {
			// peer may drop TLS without close_notify after complete response
			if responseComplete(buf[:n]) {
				break
			}
			return nil, errors.Annotatef(err, "read after=%d", n)
		}
	}
	return buf[:n], nil
}
