package tele

import (
	"context"
	"errors"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/iotgw/log2"
	tele_config "github.com/temoto/iotgw/tele/config"
	"github.com/temoto/spq"
)

func newTestTele(t testing.TB, mock *transportMock, config tele_config.Config) *Tele {
	self := &Tele{
		transport:  mock,
		Now:        func() time.Time { return time.Unix(1600000000, 0) },
		retryDelay: time.Millisecond,
	}
	config.Enabled = true
	if config.DeviceID == "" {
		config.DeviceID = "SC-4GTEST"
	}
	if config.PersistPath == "" {
		config.PersistPath = spq.OnlyForTesting
	}
	config.MqttBroker = "mock"
	require.NoError(t, self.Init(context.Background(), log2.NewTest(t, log2.LDebug), config))
	return self
}

func TestReport(t *testing.T) {
	t.Parallel()
	mock := &transportMock{t: t, outBuffer: 4}
	tele := newTestTele(t, mock, tele_config.Config{})

	tele.Report(&Report{Seq: 3, ErrorCode: 7, DownlinkIndicator: 0, Reply: []byte{0x23, 0x02, 0x07, 0x00, 0x0a}, Command: 2})
	payload := <-mock.outReport
	var r Report
	require.NoError(t, proto.Unmarshal(payload, &r))
	assert.Equal(t, "SC-4GTEST", r.DeviceId)
	assert.Equal(t, int64(1600000000), r.Time)
	assert.Equal(t, uint32(3), r.Seq)
	assert.Equal(t, uint32(7), r.ErrorCode)
	assert.Equal(t, []byte{0x23, 0x02, 0x07, 0x00, 0x0a}, r.Reply)
	assert.False(t, r.RemoteOk)
	assert.Contains(t, r.String(), "seq:3")

	tele.Close()
	assert.True(t, mock.closed)
	// after close messages are ignored
	tele.Report(&Report{Seq: 4})
	tele.Error(errors.New("late"))
	assert.Equal(t, uint32(0), tele.Dropped())
}

func TestError(t *testing.T) {
	t.Parallel()
	mock := &transportMock{t: t, outBuffer: 4}
	tele := newTestTele(t, mock, tele_config.Config{DeviceID: "dev1"})
	defer tele.Close()

	tele.Error(errors.New("remote connect refused"))
	tele.Error(nil)
	payload := <-mock.outError
	var e Error
	require.NoError(t, proto.Unmarshal(payload, &e))
	assert.Equal(t, "dev1", e.DeviceId)
	assert.Equal(t, "remote connect refused", e.Message)
	select {
	case p := <-mock.outError:
		t.Fatalf("unexpected error message=%x", p)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestRetry(t *testing.T) {
	t.Parallel()
	mock := &transportMock{t: t, outBuffer: 4, fail: 3}
	tele := newTestTele(t, mock, tele_config.Config{})
	defer tele.Close()

	tele.Report(&Report{Seq: 1})
	tele.Report(&Report{Seq: 2})
	seqs := make([]uint32, 0, 2)
	for i := 0; i < 2; i++ {
		select {
		case payload := <-mock.outReport:
			var r Report
			require.NoError(t, proto.Unmarshal(payload, &r))
			seqs = append(seqs, r.Seq)
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for redelivery, got=%v", seqs)
		}
	}
	assert.ElementsMatch(t, []uint32{1, 2}, seqs)
}

func TestPersistRestart(t *testing.T) {
	t.Parallel()
	dir, err := ioutil.TempDir("", "iotgw-tele-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	down := &transportMock{t: t, outBuffer: 4, fail: 1 << 30}
	tele1 := newTestTele(t, down, tele_config.Config{PersistPath: dir})
	tele1.Report(&Report{Seq: 9})
	tele1.Close()

	up := &transportMock{t: t, outBuffer: 4}
	tele2 := newTestTele(t, up, tele_config.Config{PersistPath: dir})
	defer tele2.Close()
	select {
	case payload := <-up.outReport:
		var r Report
		require.NoError(t, proto.Unmarshal(payload, &r))
		assert.Equal(t, uint32(9), r.Seq)
	case <-time.After(5 * time.Second):
		t.Fatal("report was not persisted across restart")
	}
}

func TestQueueUnknownTag(t *testing.T) {
	t.Parallel()
	mock := &transportMock{t: t, outBuffer: 4}
	tele := newTestTele(t, mock, tele_config.Config{})
	defer tele.Close()

	assert.True(t, tele.qhandle(nil))
	assert.True(t, tele.qhandle([]byte{0xff, 0x01}))
	mock.fail = 1
	assert.False(t, tele.qhandle([]byte{qError}))
}

func TestDisabled(t *testing.T) {
	t.Parallel()
	tele := &Tele{}
	require.NoError(t, tele.Init(context.Background(), log2.NewTest(t, log2.LDebug), tele_config.Config{}))
	tele.Report(&Report{Seq: 1})
	tele.Error(errors.New("ignored"))
	tele.Close()

	var _ Teler = Noop{}
	Noop{}.Report(nil)
	Noop{}.Error(nil)
}

func TestInitInvalid(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		config    tele_config.Config
		expectErr string
	}{
		{"device-id", tele_config.Config{Enabled: true}, "device_id"},
		{"broker", tele_config.Config{Enabled: true, DeviceID: "d"}, "mqtt_broker"},
		{"persist-path", tele_config.Config{Enabled: true, DeviceID: "d", MqttBroker: "mock"}, "persist_path"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			tele := &Tele{transport: &transportMock{t: t}}
			err := tele.Init(context.Background(), log2.NewTest(t, log2.LDebug), c.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.expectErr)
			tele.Close()
		})
	}
}
