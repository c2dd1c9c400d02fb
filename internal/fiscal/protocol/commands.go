package protocol

import (
	"strconv"
)

// Device limits
const (
	ItemNameMaxLen = 36
	HeaderWidth    = 48
	HeaderLines    = 8
)

// Payment types accepted by Payment and PayExactSum
const (
	PaymentCash = "0"
	PaymentCard = "1"
)

// Status flags returned by ReadStatus
const (
	FlagOpenedFiscalReceipt = "Opened_Fiscal_Receipt"
	FlagNonZeroDailyReport  = "Nonzero_Daily_Report"
	FlagPrinterOverheat     = "Printer_Overheat"
	FlagNoPaper             = "No_Paper"
)

// Result value names
const (
	ValueSubtotal   = "SubtotalValue"
	ValueHeaderText = "HeaderText"
)

// FormatAmount renders a money amount with two decimals
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// FormatQuantity renders a quantity with three decimals
func FormatQuantity(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// ReadStatus asks for the device status flags
func ReadStatus() Command {
	return NewCommand("ReadStatus")
}

// CancelReceipt voids the receipt currently open
func CancelReceipt() Command {
	return NewCommand("CancelReceipt")
}

// OpenReceipt opens a fiscal receipt. storno flips the receipt type to a
// refund receipt.
func OpenReceipt(operator int, password string, storno bool) Command {
	receiptType := "0"
	if storno {
		receiptType = "1"
	}
	return NewCommand("OpenReceipt",
		Arg{Name: "OperNum", Value: operator},
		Arg{Name: "OperPass", Value: password},
		Arg{Name: "OptionReceiptFormat", Value: "1"},
		Arg{Name: "OptionPrintVAT", Value: "1"},
		Arg{Name: "OptionReceiptType", Value: receiptType},
	)
}

// SellItem registers one sale line on the open receipt
func SellItem(name, vatClass string, price, quantity float64) Command {
	return NewCommand("SellPLUwithSpecifiedVAT",
		Arg{Name: "NamePLU", Value: name},
		Arg{Name: "OptionVATClass", Value: vatClass},
		Arg{Name: "Price", Value: FormatAmount(price)},
		Arg{Name: "Quantity", Value: FormatQuantity(quantity)},
	)
}

// Subtotal prints the subtotal and returns it as SubtotalValue
func Subtotal() Command {
	return NewCommand("Subtotal",
		Arg{Name: "OptionPrinting", Value: "1"},
		Arg{Name: "OptionDisplay", Value: "0"},
	)
}

// Payment registers a payment of amount with the given payment type
func Payment(paymentType string, amount float64) Command {
	return NewCommand("Payment",
		Arg{Name: "OptionPaymentType", Value: paymentType},
		Arg{Name: "OptionChange", Value: "0"},
		Arg{Name: "Amount", Value: FormatAmount(amount)},
	)
}

// PayExactSum pays the outstanding total with the given payment type
func PayExactSum(paymentType string) Command {
	return NewCommand("PayExactSum",
		Arg{Name: "OptionPaymentType", Value: paymentType},
	)
}

// CloseReceipt finishes and prints the open receipt
func CloseReceipt() Command {
	return NewCommand("CloseReceipt")
}

// DailyReport prints the daily financial report. zeroing=true is the Z
// report that closes the fiscal day, false is the X report.
func DailyReport(zeroing bool) Command {
	option := "X"
	if zeroing {
		option = "Z"
	}
	return NewCommand("PrintDailyReport",
		Arg{Name: "OptionZeroing", Value: option},
	)
}

// CashInOut registers money received on account (positive amount) or paid
// out (negative amount).
func CashInOut(operator int, password string, amount float64, text string) Command {
	return NewCommand("ReceivedOnAccount_PaidOut",
		Arg{Name: "OperNum", Value: operator},
		Arg{Name: "OperPass", Value: password},
		Arg{Name: "Amount", Value: FormatAmount(amount)},
		Arg{Name: "Text", Value: text},
	)
}

// ProgramHeaderLine writes text to the 1-based header line
func ProgramHeaderLine(line int, text string) Command {
	return NewCommand("ProgHeader",
		Arg{Name: "OptionHeaderLine", Value: line},
		Arg{Name: "HeaderText", Value: text},
	)
}

// ReadHeaderLine reads back the 1-based header line as HeaderText
func ReadHeaderLine(line int) Command {
	return NewCommand("ReadHeader",
		Arg{Name: "OptionHeaderLine", Value: line},
	)
}
