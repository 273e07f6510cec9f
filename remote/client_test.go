package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/iotgw/internal/testutil/tlstest"
	"github.com/temoto/iotgw/log2"
)

// fakeServer accepts one connection, reports request and writes response.
// Connection stays open until test ends when keepOpen.
type fakeServer struct {
	ln       net.Listener
	requests chan string
	response string
	keepOpen bool
}

func newFakeServer(t testing.TB, tlsConfig *tls.Config, response string, keepOpen bool) *fakeServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}
	self := &fakeServer{ln: ln, requests: make(chan string, 1), response: response, keepOpen: keepOpen}
	done := make(chan struct{})
	t.Cleanup(func() {
		close(done)
		ln.Close()
	})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var req []byte
		buf := make([]byte, 512)
		for !bytes.Contains(req, []byte("\r\n\r\n")) {
			n, err := conn.Read(buf)
			req = append(req, buf[:n]...)
			if err != nil {
				break
			}
		}
		self.requests <- string(req)
		_, _ = conn.Write([]byte(self.response))
		if self.keepOpen {
			<-done
		}
	}()
	return self
}

func (self *fakeServer) Port() int { return self.ln.Addr().(*net.TCPAddr).Port }

func testClient(t testing.TB, config Config) *Client {
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}
	if config.DeviceID == "" {
		config.DeviceID = "SC-4GTEST"
	}
	c, err := NewClient(config, log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	c.Now = func() time.Time { return time.Unix(1600000000, 0) }
	return c
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	c := Config{DeviceID: "SC-4GTEST"}
	c.ApplyDefaults()
	assert.Equal(t, DefaultHost, c.Host)
	assert.Equal(t, DefaultPath, c.Path)
	assert.Equal(t, 80, c.Port)
	assert.Equal(t, DefaultResponseMax, c.ResponseMax)
	assert.NoError(t, c.Validate())

	tc := Config{TLS: true, Host: "::1"}
	tc.ApplyDefaults()
	assert.Equal(t, 443, tc.Port)
	assert.Equal(t, "[::1]:443", tc.Addr())

	client, err := NewClient(c, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultHost+":80", client.Config().Addr())

	cases := []Config{
		{},
		{DeviceID: strings.Repeat("x", 33)},
		{DeviceID: "a", Path: "/" + strings.Repeat("p", 32)},
		{DeviceID: "a", Port: 70000},
		{DeviceID: "a", ResponseMax: 100},
	}
	for _, c := range cases {
		c.ApplyDefaults()
		assert.True(t, errors.IsNotValid(c.Validate()), "config=%#v", c)
	}
}

func TestBuildRequest(t *testing.T) {
	t.Parallel()
	c := testClient(t, Config{Port: 8080})
	assert.Equal(t, uint32(0), c.Seq())
	r := c.BuildRequest([]byte{0x01, 0x02, 0xab})
	assert.Equal(t,
		"GET /mobile/webhook?id=SC-4GTEST&time=1600000000&seqNumber=0&ack=1&data=0102ab HTTP/1.1\r\nHost: 127.0.0.1\r\n\r\n",
		string(r.Bytes()))
	for i := uint32(1); i <= 3; i++ {
		r = c.BuildRequest(nil)
		assert.Equal(t, i, r.Seq)
		assert.Contains(t, string(r.Bytes()), "&seqNumber="+strconv.Itoa(int(i))+"&ack=1&data= HTTP/1.1\r\n")
	}
	assert.Equal(t, uint32(4), c.Seq())
}

func TestSendDownlink(t *testing.T) {
	t.Parallel()
	srv := newFakeServer(t, nil, testChunkedOK, true)
	c := testClient(t, Config{Port: srv.Port()})
	req := c.BuildRequest([]byte("hello"))
	reply, err := c.Send(context.Background(), &req)
	require.NoError(t, err)
	assert.True(t, reply.HasDownlink)
	assert.Equal(t, [8]byte{0x36, 0x0f, 0x1f, 0x73, 0xde, 0xad, 0xbe, 0xef}, reply.Downlink)
	assert.Equal(t, string(req.Bytes()), <-srv.requests)
}

func TestSendTLS(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "test-ca")
	srv := newFakeServer(t, ca.ServerConfig(t, nil, []net.IP{net.IPv4(127, 0, 0, 1)}),
		"HTTP/1.1 204 No Content\r\n\r\n", false)
	c := testClient(t, Config{Port: srv.Port(), TLS: true, TLSCaFile: ca.CAFile()})
	req := c.BuildRequest([]byte{0xff})
	reply, err := c.Send(context.Background(), &req)
	require.NoError(t, err)
	assert.Equal(t, StatusNoContent, reply.StatusCode)
	assert.False(t, reply.HasDownlink)
	assert.Contains(t, <-srv.requests, "&data=ff HTTP/1.1\r\n")
}

func TestSendTLSUnknownAuthority(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "test-ca")
	srv := newFakeServer(t, ca.ServerConfig(t, nil, []net.IP{net.IPv4(127, 0, 0, 1)}), "", false)
	c := testClient(t, Config{Port: srv.Port(), TLS: true})
	req := c.BuildRequest(nil)
	_, err := c.Send(context.Background(), &req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TLS handshake")
}

func TestSendFailures(t *testing.T) {
	t.Parallel()

	t.Run("status-500", func(t *testing.T) {
		srv := newFakeServer(t, nil, "HTTP/1.1 500 Internal Server Error\r\nContent-Length: 0\r\n\r\n", true)
		c := testClient(t, Config{Port: srv.Port()})
		req := c.BuildRequest(nil)
		_, err := c.Send(context.Background(), &req)
		require.Error(t, err)
		assert.Equal(t, UnsupportedStatusError{Code: 500}, errors.Cause(err))
	})
	t.Run("too-large", func(t *testing.T) {
		srv := newFakeServer(t, nil, "HTTP/1.1 200 OK\r\nX-Pad: "+strings.Repeat("a", 300), true)
		c := testClient(t, Config{Port: srv.Port(), ResponseMax: ResponseMaxMin})
		req := c.BuildRequest(nil)
		_, err := c.Send(context.Background(), &req)
		require.Error(t, err)
		assert.Equal(t, ErrResponseTooLarge, errors.Cause(err))
	})
	t.Run("refused", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := ln.Addr().(*net.TCPAddr).Port
		ln.Close()
		c := testClient(t, Config{Port: port})
		req := c.BuildRequest(nil)
		_, err = c.Send(context.Background(), &req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connect")
	})
	t.Run("timeout", func(t *testing.T) {
		srv := newFakeServer(t, nil, "", true)
		c := testClient(t, Config{Port: srv.Port()})
		req := c.BuildRequest(nil)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := c.Send(ctx, &req)
		require.Error(t, err)
		nerr, ok := errors.Cause(err).(net.Error)
		require.True(t, ok, errors.ErrorStack(err))
		assert.True(t, nerr.Timeout())
	})
	t.Run("closed-before-reply", func(t *testing.T) {
		srv := newFakeServer(t, nil, "", false)
		c := testClient(t, Config{Port: srv.Port()})
		req := c.BuildRequest(nil)
		_, err := c.Send(context.Background(), &req)
		require.Error(t, err)
		assert.Equal(t, ErrMalformedStatusLine, errors.Cause(err))
	})
}
