// Package state reads gateway configuration.
package state

import (
	"path/filepath"
	"sync"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/iotgw/engine"
	"github.com/temoto/iotgw/hardware/bsc"
	"github.com/temoto/iotgw/hardware/uart"
	"github.com/temoto/iotgw/helpers"
	"github.com/temoto/iotgw/log2"
	"github.com/temoto/iotgw/remote"
	tele_config "github.com/temoto/iotgw/tele/config"
)

const (
	DriverBsc  = "bsc"
	DriverUart = "uart"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	LogDebug  bool `hcl:"log_debug"`
	Transport struct {
		Driver string `hcl:"driver"`
	} `hcl:"transport"`
	Bsc    bsc.Config         `hcl:"bsc"`
	Uart   uart.Config        `hcl:"uart"`
	Server remote.Config      `hcl:"server"`
	Engine engine.Config      `hcl:"engine"`
	Tele   tele_config.Config `hcl:"tele"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) ApplyDefaults() {
	if c.Transport.Driver == "" {
		c.Transport.Driver = DriverBsc
	}
	c.Bsc.ApplyDefaults()
	c.Uart.ApplyDefaults()
	c.Server.ApplyDefaults()
}

// Validate checks sections used by configured driver, all problems at once.
func (c *Config) Validate(log *log2.Log) error {
	errs := make([]error, 0, 4)
	switch c.Transport.Driver {
	case DriverBsc:
		errs = append(errs, c.Bsc.Validate())
	case DriverUart:
		errs = append(errs, c.Uart.Validate())
	default:
		errs = append(errs, errors.NotValidf("transport.driver=%q (expected bsc|uart)", c.Transport.Driver))
	}
	errs = append(errs, c.Server.Validate())
	if len(c.Server.Host) > remote.FieldMaxLength {
		log.Warningf("server.host length=%d > %d", len(c.Server.Host), remote.FieldMaxLength)
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			*errs = append(*errs, errors.NotFoundf("config required name=%s path=%s", source.Name, norm))
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	if err = hcl.Unmarshal(bs, c); err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			*errs = append(*errs, errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name))
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig reads names in order, later values overwrite earlier.
// Defaults are applied and result validated.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if err := helpers.FoldErrors(errs); err != nil {
		return c, err
	}
	c.ApplyDefaults()
	return c, c.Validate(log)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
