package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKillSwitchNotifiesOnChange(t *testing.T) {
	ks := NewKillSwitch(false)
	var seen []bool
	ks.Watch(func(enabled bool) { seen = append(seen, enabled) })

	ks.Enable()
	ks.Enable()
	ks.Disable()

	assert.Equal(t, []bool{true, false}, seen)
	assert.False(t, ks.Enabled())

	var nilSwitch *KillSwitch
	assert.False(t, nilSwitch.Enabled())
}
