package config

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/muvis-xrh/xrhms-core/internal/conf"
)

func TestShowRedactsSecrets(t *testing.T) {
	settings := &conf.Settings{}
	settings.Output.MySQL.Enabled = true
	settings.Output.MySQL.Username = "xrhms"
	settings.Output.MySQL.Password = "hunter2"
	settings.MQTT.Password = "broker-secret"
	settings.Storage.MountRoot = "/mnt"

	var out bytes.Buffer
	cmd := Command(settings)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"show"})
	require.NoError(t, cmd.Execute())

	assert.NotContains(t, out.String(), "hunter2")
	assert.NotContains(t, out.String(), "broker-secret")

	var decoded conf.Settings
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "xrhms", decoded.Output.MySQL.Username)
	assert.Equal(t, mask, decoded.Output.MySQL.Password)
	assert.Equal(t, "/mnt", decoded.Storage.MountRoot)
	assert.Equal(t, "hunter2", settings.Output.MySQL.Password, "settings must not be modified")
}

func TestShowDefaults(t *testing.T) {
	var out bytes.Buffer
	cmd := Command(&conf.Settings{})
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"show", "--defaults"})
	require.NoError(t, cmd.Execute())

	defaults, err := conf.DefaultSettings()
	require.NoError(t, err)

	var decoded conf.Settings
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, defaults.Lock.Name, decoded.Lock.Name)
	assert.Equal(t, defaults.Storage.MountRoot, decoded.Storage.MountRoot)
}
