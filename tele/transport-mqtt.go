package tele

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io/ioutil"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/iotgw/helpers"
	"github.com/temoto/iotgw/log2"
	tele_config "github.com/temoto/iotgw/tele/config"
)

var (
	stateOffline = []byte{'0'}
	stateOnline  = []byte{'1'}
)

type transportMqtt struct {
	log    *log2.Log
	m      mqtt.Client
	mopt   *mqtt.ClientOptions
	stopCh chan struct{}

	topicState  string
	topicReport string
	topicError  string
}

func (self *transportMqtt) Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config) error {
	self.log = log
	mqttLog := log.Clone(log2.LDebug)
	mqttLog.SetPrefix("tele.mqtt ")
	mqtt.CRITICAL = mqttLog
	mqtt.ERROR = mqttLog
	mqtt.WARN = mqttLog
	if teleConfig.MqttLogDebug {
		mqtt.DEBUG = mqttLog
	}

	clientID := teleConfig.DeviceID
	credFun := func() (string, string) {
		return clientID, teleConfig.MqttPassword
	}
	self.topicState = fmt.Sprintf("%s/w/state", clientID)
	self.topicReport = fmt.Sprintf("%s/w/report", clientID)
	self.topicError = fmt.Sprintf("%s/w/error", clientID)

	networkTimeout := helpers.IntSecondDefault(teleConfig.NetworkTimeoutSec, defaultNetworkTimeout)
	if networkTimeout < 1*time.Second {
		networkTimeout = 1 * time.Second
	}
	connectTimeout := networkTimeout * 3
	keepaliveTimeout := helpers.IntSecondDefault(teleConfig.KeepaliveSec, networkTimeout/2)

	tlsconf := new(tls.Config)
	if teleConfig.TlsCaFile != "" {
		cabytes, err := ioutil.ReadFile(teleConfig.TlsCaFile)
		if err != nil {
			return errors.Annotate(err, "tele TLS CA")
		}
		tlsconf.RootCAs = x509.NewCertPool()
		if !tlsconf.RootCAs.AppendCertsFromPEM(cabytes) {
			return errors.NotValidf("tele TLS CA file=%s no certificates", teleConfig.TlsCaFile)
		}
	}
	self.stopCh = make(chan struct{})
	self.mopt = mqtt.NewClientOptions().
		AddBroker(teleConfig.MqttBroker).
		SetAutoReconnect(true).
		SetBinaryWill(self.topicState, stateOffline, 1, true).
		SetCleanSession(true).
		SetClientID(clientID).
		SetConnectTimeout(connectTimeout).
		SetCredentialsProvider(credFun).
		SetKeepAlive(keepaliveTimeout).
		SetMaxReconnectInterval(connectTimeout).
		SetOnConnectHandler(self.onConnect).
		SetPingTimeout(networkTimeout).
		SetTLSConfig(tlsconf).
		SetWriteTimeout(networkTimeout)
	self.m = mqtt.NewClient(self.mopt)

	go self.online()
	return nil
}

func (self *transportMqtt) Close() {
	close(self.stopCh)
	if self.m.IsConnected() {
		t := self.m.Publish(self.topicState, 1, true, stateOffline)
		_ = self.tokenWait(t, "publish state")
	}
	self.m.Disconnect(uint(self.mopt.PingTimeout / time.Millisecond))
}

func (self *transportMqtt) SendReport(payload []byte) bool {
	t := self.m.Publish(self.topicReport, 1, false, payload)
	return self.tokenWait(t, "publish report") == nil
}

func (self *transportMqtt) SendError(payload []byte) bool {
	t := self.m.Publish(self.topicError, 1, false, payload)
	return self.tokenWait(t, "publish error") == nil
}

func (self *transportMqtt) onConnect(c mqtt.Client) {
	self.log.Infof("tele connected")
	t := c.Publish(self.topicState, 1, true, stateOnline)
	// handler runs in client goroutine, must not wait here
	go func() { _ = self.tokenWait(t, "publish state") }()
}

func (self *transportMqtt) online() {
	for self.isRunning() {
		t := self.m.Connect()
		if self.tokenWait(t, "connect") == nil {
			return // success path, reconnect is automatic from here
		}
		select {
		case <-self.stopCh:
			return
		case <-time.After(time.Second):
		}
	}
}

func (self *transportMqtt) isRunning() bool {
	select {
	case <-self.stopCh:
		return false
	default:
		return true
	}
}

// tokenWait logs at info level, tele errors must not feed back into log error hook.
func (self *transportMqtt) tokenWait(t mqtt.Token, tag string) error {
	if !t.WaitTimeout(self.mopt.WriteTimeout + self.mopt.ConnectTimeout) {
		err := errors.Timeoutf("%s", tag)
		self.log.Infof("tele: MQTT %s", err.Error())
		return err
	}
	if err := t.Error(); err != nil {
		err = errors.Annotate(err, tag)
		self.log.Infof("tele: MQTT %s", err.Error())
		return err
	}
	return nil
}
