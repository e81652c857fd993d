package format

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/wolfman30/coop-chat-agent/internal/partners"
)

var moneyPrinter = message.NewPrinter(language.English)

// Money renders an amount as "S/ 1,234.56".
func Money(v float64) string {
	return "S/ " + moneyPrinter.Sprintf("%.2f", v)
}

// Error wraps a message as a user-facing error.
func Error(msg string) string {
	return "❌ *Error:* " + msg
}

// Success wraps a message as a user-facing success.
func Success(msg string) string {
	return "✅ " + msg
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

// Greeting addresses the partner by first name and shows the menu.
func Greeting(name string) string {
	if strings.TrimSpace(name) == "" {
		name = GenericName
	}
	return fmt.Sprintf("Hola %s! 👋\n\n%s", name, Menu)
}

// AuthenticationSuccess welcomes a freshly authenticated partner.
func AuthenticationSuccess(name string) string {
	if strings.TrimSpace(name) == "" {
		name = GenericName
	}
	return Success(fmt.Sprintf("Bienvenido %s!\n\n%s", name, Menu))
}

// PartnerInfo renders the partner's identity fields.
func PartnerInfo(p partners.Partner) string {
	return fmt.Sprintf(`📋 *Información del Socio*

👤 *Nombre:* %s
🆔 *Documento:* %s
📱 *Teléfono:* %s
📧 *Email:* %s`,
		orNA(p.DisplayName()), orNA(p.DocumentNumber), orNA(p.Phone), orNA(p.Email))
}

// AccountStatement renders the statement summary.
func AccountStatement(s partners.Statement) string {
	sum := s.Summary
	return fmt.Sprintf(`💰 *Estado de Cuenta*

📊 *Resumen General:*
• Créditos totales: %d
• Créditos activos: %d
• Total desembolsado: %s
• Total pagado: %s
• *Saldo pendiente:* %s`,
		sum.TotalCredits,
		sum.ActiveCreditsCount,
		Money(sum.TotalDisbursed.Float()),
		Money(sum.TotalPayments.Float()),
		Money(sum.TotalOutstanding.Float()))
}

// CreditList renders the partner's credits, or the no-credits message when
// the list is empty.
func CreditList(credits []partners.Credit) string {
	if len(credits) == 0 {
		return NoCredits
	}
	var b strings.Builder
	b.WriteString("📋 *Mis Préstamos*\n")
	for i, c := range credits {
		fmt.Fprintf(&b, "\n%d. *Préstamo #%d*\n   Producto: %s\n   Monto: %s\n   Saldo: %s\n   Estado: %s\n",
			i+1, c.ID, orNA(c.Product.Name), Money(c.Amount.Float()), Money(c.OutstandingBalance.Float()), orNA(c.Status))
	}
	return strings.TrimRight(b.String(), "\n")
}

// CreditDetail renders one credit with its installment summary.
func CreditDetail(d partners.CreditDetail) string {
	c, s := d.Credit, d.Summary
	return fmt.Sprintf(`💳 *Detalle del Préstamo #%d*

*Información General:*
• Producto: %s
• Monto: %s
• Tasa de interés: %s%%
• Plazo: %d meses
• Cuota: %s
• Saldo pendiente: %s

*Resumen de Pagos:*
• Total de cuotas: %d
• Cuotas pagadas: %d
• Cuotas pendientes: %d
• Cuotas vencidas: %d`,
		c.ID,
		orNA(c.Product.Name),
		Money(c.Amount.Float()),
		trimFloat(c.InterestRate.Float()),
		c.TermDuration,
		Money(c.PaymentAmount.Float()),
		Money(c.OutstandingBalance.Float()),
		s.TotalInstallments, s.PaidInstallments, s.PendingInstallments, s.OverdueInstallments)
}

// TicketCreated confirms a support ticket.
func TicketCreated(id string) string {
	return Success(fmt.Sprintf("Ticket #%s creado exitosamente.\nNuestro equipo lo atenderá pronto.", id))
}

// ReceiptConfirmation acknowledges an uploaded payment receipt. When the
// caption yielded an amount, the processed values are echoed back.
type ReceiptConfirmation struct {
	ReceiptID   string
	Amount      float64
	PaymentDate string
	// Echo is set when the amount was read from the user's own text.
	Echo bool
}

func (r ReceiptConfirmation) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ *Boleta de pago recibida correctamente*\n\n📝 Número de recibo: %s\n💰 Monto: %s\n📅 Fecha: %s\n\n",
		r.ReceiptID, Money(r.Amount), r.PaymentDate)
	b.WriteString("Tu boleta está en estado PENDIENTE y será revisada por nuestro equipo.")
	if r.Echo {
		fmt.Fprintf(&b, "\n\n📝 *Datos procesados del mensaje*\n• Monto: %s\n• Fecha: %s", Money(r.Amount), r.PaymentDate)
	}
	return b.String()
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
