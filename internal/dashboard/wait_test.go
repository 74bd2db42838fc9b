package dashboard

import (
	"testing"
	"time"
)

func TestShouldWaitForHistory(t *testing.T) {
	const (
		headerSettle = 2500 * time.Millisecond
		signalGrace  = 6500 * time.Millisecond
	)
	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   waitInputs
		want bool
	}{
		{
			name: "auto-scroll always waits",
			in: waitInputs{
				now:             base.Add(time.Hour),
				firstSignalAt:   base,
				headerVisibleAt: base,
				headerPresent:   true,
				headerInView:    true,
				didAutoScroll:   true,
			},
			want: true,
		},
		{
			name: "auto-scroll waits even with no other signal",
			in:   waitInputs{now: base, didAutoScroll: true},
			want: true,
		},
		{
			name: "header in view, settle window open",
			in: waitInputs{
				now:             base.Add(2400 * time.Millisecond),
				headerVisibleAt: base,
				headerPresent:   true,
				headerInView:    true,
			},
			want: true,
		},
		{
			name: "header in view, settle window closes at exactly 2.5s",
			in: waitInputs{
				now:             base.Add(2500 * time.Millisecond),
				headerVisibleAt: base,
				headerPresent:   true,
				headerInView:    true,
			},
			want: false,
		},
		{
			name: "header in view but visible-at not recorded yet",
			in: waitInputs{
				now:           base,
				headerPresent: true,
				headerInView:  true,
			},
			want: true,
		},
		{
			name: "header present but off screen falls back to signal grace",
			in: waitInputs{
				now:           base.Add(6 * time.Second),
				firstSignalAt: base,
				headerPresent: true,
				headerInView:  false,
			},
			want: true,
		},
		{
			name: "no header, signal grace open",
			in: waitInputs{
				now:           base.Add(6400 * time.Millisecond),
				firstSignalAt: base,
			},
			want: true,
		},
		{
			name: "no header, signal grace closes at exactly 6.5s",
			in: waitInputs{
				now:           base.Add(6500 * time.Millisecond),
				firstSignalAt: base,
			},
			want: false,
		},
		{
			name: "no signal at all relies on outer deadline",
			in:   waitInputs{now: base},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shouldWaitForHistory(tt.in, headerSettle, signalGrace)
			if got != tt.want {
				t.Errorf("shouldWaitForHistory() = %v, want %v", got, tt.want)
			}
		})
	}
}
