package state

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/iotgw/engine"
	"github.com/temoto/iotgw/hardware/bsc"
	"github.com/temoto/iotgw/hardware/uart"
	"github.com/temoto/iotgw/helpers"
	"github.com/temoto/iotgw/log2"
	"github.com/temoto/iotgw/remote"
	"github.com/temoto/iotgw/tele"
	"github.com/temoto/iotgw/transport"
)

// Global owns every long lived gateway component.
type Global struct {
	Alive     *alive.Alive
	Config    *Config
	Engine    *engine.Engine
	Log       *log2.Log
	Remote    *remote.Client
	Tele      *tele.Tele
	Transport transport.Transporter
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}
	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
		Tele:  &tele.Tele{},
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// Init builds components from config. Transport preset by caller is kept.
// If `Init` fails, consider `Global` is in broken state, but Close is still safe.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg
	if cfg.LogDebug {
		g.Log.SetLevel(log2.LDebug)
	}

	// Since tele is remote error reporting mechanism, it must be inited before anything else
	if err := g.Tele.Init(ctx, g.Log, cfg.Tele); err != nil {
		return errors.Annotate(err, "tele init")
	}
	g.Log.SetErrorFunc(g.Tele.Error)

	var err error
	if g.Remote, err = remote.NewClient(cfg.Server, g.Log); err != nil {
		return errors.Annotate(err, "remote init")
	}
	g.Log.Infof("remote server=%s tls=%t device=%s", g.Remote.Config().Addr(), cfg.Server.TLS, cfg.Server.DeviceID)

	if g.Transport == nil {
		if g.Transport, err = g.openTransport(ctx); err != nil {
			return errors.Annotatef(err, "transport driver=%s", cfg.Transport.Driver)
		}
	}

	g.Engine = engine.New(cfg.Engine, g.Transport, g.Remote, g.Tele, g.Log)
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

// Close releases transport then flushes telemetry.
func (g *Global) Close() error {
	errs := make([]error, 0, 1)
	if g.Transport != nil {
		if err := g.Transport.Close(); err != nil {
			errs = append(errs, errors.Annotate(err, "transport close"))
		}
	}
	if g.Tele != nil {
		g.Tele.Close()
	}
	return helpers.FoldErrors(errs)
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Errorf("%s", errors.ErrorStack(err))
	}
}

func (g *Global) openTransport(ctx context.Context) (transport.Transporter, error) {
	// typed nil must not leak into Transporter
	switch g.Config.Transport.Driver {
	case DriverBsc:
		t, err := bsc.Open(ctx, g.Config.Bsc, g.Log)
		if err != nil {
			return nil, err
		}
		return t, nil
	case DriverUart:
		t, err := uart.Open(g.Config.Uart, g.Log)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, errors.NotSupportedf("transport.driver=%s", g.Config.Transport.Driver)
	}
}
