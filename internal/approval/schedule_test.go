package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/zenginsync/pkg/zengin"
)

func jst(day, hour, minute int) time.Time {
	return time.Date(2025, time.March, day, hour, minute, 0, 0, zengin.Tokyo)
}

func TestParseCutover(t *testing.T) {
	c, err := ParseCutover("23:00")
	require.NoError(t, err)
	assert.Equal(t, DefaultCutover, c)
	assert.Equal(t, "23:00", c.String())

	c, err = ParseCutover("07:30")
	require.NoError(t, err)
	assert.Equal(t, Cutover{Hour: 7, Minute: 30}, c)

	for _, bad := range []string{"", "24:00", "7pm", "23"} {
		_, err := ParseCutover(bad)
		assert.Error(t, err, bad)
	}
}

func TestCutoverNext(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"later today", jst(10, 12, 0), jst(10, 23, 0)},
		{"exactly at cutover", jst(10, 23, 0), jst(11, 23, 0)},
		{"already passed", jst(10, 23, 30), jst(11, 23, 0)},
		{"month end rolls over", time.Date(2025, time.March, 31, 23, 59, 0, 0, zengin.Tokyo), time.Date(2025, time.April, 1, 23, 0, 0, 0, zengin.Tokyo)},
		{"utc input", time.Date(2025, time.March, 10, 15, 0, 0, 0, time.UTC), jst(11, 23, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultCutover.Next(tt.now, zengin.Tokyo)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestTarget(t *testing.T) {
	now := jst(10, 12, 0)
	tests := []struct {
		name     string
		action   Action
		want     time.Time
		wantType zengin.ExecutionType
	}{
		{"fixed cutover", Action{ID: zengin.ActionApprove}, jst(10, 23, 0), zengin.ExecutionFixed},
		{"one hour", Action{ID: zengin.ActionApproveOneHour}, now.Add(time.Hour), zengin.ExecutionRelative},
		{"three hours", Action{ID: zengin.ActionApproveThreeHour}, now.Add(3 * time.Hour), zengin.ExecutionRelative},
		{"five hours", Action{ID: zengin.ActionApproveFiveHour}, now.Add(5 * time.Hour), zengin.ExecutionRelative},
		{"explicit hours", Action{ID: zengin.ActionApproveOneHour, Hours: 8}, now.Add(8 * time.Hour), zengin.ExecutionRelative},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, typ := Target(tt.action, now, DefaultCutover, zengin.Tokyo)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
			assert.Equal(t, tt.wantType, typ)
		})
	}
}
