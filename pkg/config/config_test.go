package config

import (
	"os"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
)

func TestConfig_Load(t *testing.T) {
	t.Run("no path is a no-op", func(t *testing.T) {
		c := Config{}
		var conf fakeConfig
		assert.NoError(t, c.Load(&conf))
		assert.Equal(t, fakeConfig{}, conf)
	})

	t.Run("loads from path", func(t *testing.T) {
		f, err := os.CreateTemp("", "scuttle")
		assert.NoError(t, err)
		defer os.Remove(f.Name())

		_, err = f.WriteString(`foo: val1
bar: val2
sub:
  car: 5`)
		assert.NoError(t, err)

		c := Config{Path: f.Name()}
		var conf fakeConfig
		assert.NoError(t, c.Load(&conf))

		assert.Equal(t, "val1", conf.Foo)
		assert.Equal(t, "val2", conf.Bar)
		assert.Equal(t, 5, conf.Sub.Car)
	})
}

func TestConfig_RegisterFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c := Config{}
	c.RegisterFlags(fs)

	assert.NoError(t, fs.Parse([]string{
		"--config.path", "/tmp/scuttle.yaml",
		"--config.expand-env",
	}))

	assert.Equal(t, "/tmp/scuttle.yaml", c.Path)
	assert.True(t, c.ExpandEnv)
}
