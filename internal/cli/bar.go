package cli

import (
	"fmt"
	"strings"

	"github.com/confquest/confquest/internal/app/session"
	"github.com/confquest/confquest/internal/app/timewindow"
)

// ─── Meter ──────────────────────────────────────────────────────────────────
// Renders the clicker state on one line:
// ⚡ [██████░░░░░░] 6/10 │ 🪙 245 │ Lv 3 [████░░░░] 42% │ full in 00:00:40

const barWidth = 12 // Characters per bar

func bar(pct float64) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * barWidth)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled) + "]"
}

func meter(st session.State) string {
	energyPct := 0.0
	if st.MaxEnergy > 0 {
		energyPct = st.Energy.Amount / st.MaxEnergy * 100
	}
	line := fmt.Sprintf("⚡ %s %.0f/%.0f │ 🪙 %d │ Lv %d %s %.0f%%",
		bar(energyPct), st.Energy.Amount, st.MaxEnergy,
		st.Coins.Coins,
		st.Coins.Level, bar(st.LevelProgress), st.LevelProgress,
	)
	if st.TimeToFull > 0 {
		line += " │ full in " + timewindow.FormatRemaining(st.TimeToFull)
	}
	if st.Unmirrored > 0 {
		line += fmt.Sprintf(" │ %d unsynced", st.Unmirrored)
	}
	return line
}
