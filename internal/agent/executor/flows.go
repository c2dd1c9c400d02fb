package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/fiscal-bridge/internal/fiscal/protocol"
	"github.com/cuongbtq/fiscal-bridge/internal/queue/domain"
)

// DefaultVATClass is used for items that do not name one
const DefaultVATClass = "B"

const defaultItemName = "Item"

func (e *Executor) printReceipt(ctx context.Context, p *domain.Payload, storno bool, log *slog.Logger) error {
	// A receipt left open by an interrupted attempt blocks OpenReceipt
	if _, err := e.device.Send(ctx, protocol.CancelReceipt()); err != nil && !protocol.IsProtocolError(err) {
		return fmt.Errorf("failed to cancel open receipt: %w", err)
	}

	if header := e.resolveHeader(p); header != nil {
		if err := e.programHeaders(ctx, header, false, log); err != nil {
			return err
		}
	}

	if _, err := e.withOperator(ctx, func(op Operator) protocol.Command {
		return protocol.OpenReceipt(op.Number, op.Password, storno)
	}); err != nil {
		return fmt.Errorf("failed to open receipt: %w", err)
	}

	for i, item := range p.Items {
		cmd := protocol.SellItem(itemName(item.Name), vatClass(item.VATClass), item.UnitPrice(), item.Qty())
		if _, err := e.device.Send(ctx, cmd); err != nil {
			return fmt.Errorf("failed to sell item %d: %w", i+1, err)
		}
	}

	paymentType := protocol.PaymentCash
	if p.PaymentMethod == domain.PaymentCard {
		paymentType = protocol.PaymentCard
	}

	subtotal, err := e.device.Send(ctx, protocol.Subtotal())
	if err != nil {
		if !protocol.IsProtocolError(err) {
			return fmt.Errorf("failed to compute subtotal: %w", err)
		}
		log.Warn("Subtotal rejected, paying exact sum",
			slog.String("error", err.Error()),
		)
		if _, err := e.device.Send(ctx, protocol.PayExactSum(paymentType)); err != nil {
			return fmt.Errorf("failed to pay exact sum: %w", err)
		}
	} else {
		amount, ok := subtotal.Float(protocol.ValueSubtotal)
		if !ok {
			amount = p.Total()
		}
		if _, err := e.device.Send(ctx, protocol.Payment(paymentType, amount)); err != nil {
			return fmt.Errorf("failed to register payment: %w", err)
		}
	}

	if _, err := e.device.Send(ctx, protocol.CloseReceipt()); err != nil {
		return fmt.Errorf("failed to close receipt: %w", err)
	}

	return nil
}

// printZReport closes the fiscal day. Once the report is printed the header
// step is best effort so a header failure never prints a second Z report.
func (e *Executor) printZReport(ctx context.Context, p *domain.Payload, log *slog.Logger) error {
	if _, err := e.device.Send(ctx, protocol.DailyReport(true)); err != nil {
		return fmt.Errorf("failed to print Z report: %w", err)
	}

	if err := sleep(ctx, e.cfg.ZReportSettle); err != nil {
		return nil
	}

	header := e.resolveHeader(p)
	if header == nil {
		fetched, err := e.reporter.Header(ctx)
		if err != nil {
			log.Warn("Failed to fetch company header after Z report",
				slog.String("error", err.Error()),
			)
			return nil
		}
		if fetched.IsZero() {
			return nil
		}
		e.device.State().Header = fetched
		header = fetched
	}

	if err := e.programHeaders(ctx, header, true, log); err != nil {
		log.Warn("Header programming after Z report failed",
			slog.String("error", err.Error()),
		)
	}

	return nil
}

func (e *Executor) printXReport(ctx context.Context) error {
	if _, err := e.device.Send(ctx, protocol.DailyReport(false)); err != nil {
		return fmt.Errorf("failed to print X report: %w", err)
	}
	return nil
}

func (e *Executor) cashMovement(ctx context.Context, p *domain.Payload) error {
	amount := p.Amount
	if p.Action == domain.CashOut {
		amount = -amount
	}

	if _, err := e.withOperator(ctx, func(op Operator) protocol.Command {
		return protocol.CashInOut(op.Number, op.Password, amount, p.Text)
	}); err != nil {
		return fmt.Errorf("failed to register cash %s: %w", p.Action, err)
	}
	return nil
}

func itemName(name string) string {
	if name == "" {
		return defaultItemName
	}
	runes := []rune(name)
	if len(runes) > protocol.ItemNameMaxLen {
		return string(runes[:protocol.ItemNameMaxLen])
	}
	return name
}

func vatClass(class string) string {
	if class == "" {
		return DefaultVATClass
	}
	return class
}
