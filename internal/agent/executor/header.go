package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/cuongbtq/fiscal-bridge/internal/fiscal/protocol"
	"github.com/cuongbtq/fiscal-bridge/internal/queue/domain"
)

// HeaderLines lays the company header out over the device header memory.
// The result always has protocol.HeaderLines entries.
func HeaderLines(h *domain.CompanyHeaderSnapshot) []string {
	lines := make([]string, protocol.HeaderLines)
	if h == nil {
		return lines
	}

	lines[0] = center(h.Name, protocol.HeaderWidth)
	lines[1] = center(h.Address, protocol.HeaderWidth)
	lines[3] = center(taxLine(h), protocol.HeaderWidth)
	return lines
}

// readbackLine is the 1-based number of the last non-blank line in lines,
// the one checked after forced programming.
func readbackLine(lines []string) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return i + 1
		}
	}
	return 1
}

func taxLine(h *domain.CompanyHeaderSnapshot) string {
	var parts []string
	if id := strings.TrimSpace(h.TaxID); id != "" {
		parts = append(parts, "EIK "+id)
	}
	if vat := strings.TrimSpace(h.VATNumber); vat != "" {
		parts = append(parts, "VAT "+vat)
	}
	return strings.Join(parts, "  ")
}

// center pads s with leading spaces so it sits in the middle of width
// columns. Longer text is cut to width.
func center(s string, width int) string {
	s = strings.TrimSpace(s)
	n := utf8.RuneCountInString(s)
	if n >= width {
		return string([]rune(s)[:width])
	}
	if n == 0 {
		return ""
	}
	return strings.Repeat(" ", (width-n)/2) + s
}

// resolveHeader picks the payload snapshot, falling back to the cached one
func (e *Executor) resolveHeader(p *domain.Payload) *domain.CompanyHeaderSnapshot {
	if p != nil && !p.Header.IsZero() {
		return p.Header
	}
	if cached := e.device.State().Header; !cached.IsZero() {
		return cached
	}
	return nil
}

// programHeaders writes the company header to the device. Without force the
// write only happens when the fiscal day is known to be closed. A device
// refusal because the day is open is logged and leaves the header marked
// stale.
func (e *Executor) programHeaders(ctx context.Context, h *domain.CompanyHeaderSnapshot, force bool, log *slog.Logger) error {
	state := e.device.State()

	if !force {
		closed, err := e.dayClosed(ctx)
		if err != nil {
			return fmt.Errorf("failed to probe fiscal day: %w", err)
		}
		if !closed {
			log.Debug("Fiscal day open, header programming deferred")
			return nil
		}
	}

	lines := HeaderLines(h)
	for i, text := range lines {
		if _, err := e.device.Send(ctx, protocol.ProgramHeaderLine(i+1, text)); err != nil {
			if protocol.IsDayOpen(err) {
				log.Warn("Device refused header while fiscal day is open",
					slog.Int("line", i+1),
					slog.String("error", err.Error()),
				)
				state.HeadersNeedUpdate = true
				return nil
			}
			return fmt.Errorf("failed to program header line %d: %w", i+1, err)
		}
	}

	if force {
		n := readbackLine(lines)
		res, err := e.device.Send(ctx, protocol.ReadHeaderLine(n))
		if err != nil {
			return fmt.Errorf("failed to read back header line %d: %w", n, err)
		}
		want := strings.TrimSpace(lines[n-1])
		got := strings.TrimSpace(res.String(protocol.ValueHeaderText))
		if got != want {
			log.Warn("Header read-back mismatch",
				slog.String("want", want),
				slog.String("got", got),
			)
			state.HeadersNeedUpdate = true
			return nil
		}
	}

	state.Header = h
	state.HeadersNeedUpdate = false
	log.Info("Company header programmed",
		slog.Bool("forced", force),
	)

	return nil
}

// dayClosed reports whether the device has no open receipt and an empty
// daily report. A day-open refusal of the probe itself counts as open.
func (e *Executor) dayClosed(ctx context.Context) (bool, error) {
	status, err := e.device.Send(ctx, protocol.ReadStatus())
	if err != nil {
		if protocol.IsDayOpen(err) {
			return false, nil
		}
		return false, err
	}
	if status.Flag(protocol.FlagOpenedFiscalReceipt) || status.Flag(protocol.FlagNonZeroDailyReport) {
		return false, nil
	}
	return true, nil
}
