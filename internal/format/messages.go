// Package format renders partner data and fixed replies as chat text.
//
// Texts use the *bold* markup understood by both WhatsApp and Telegram's
// Markdown parse mode.
package format

const Welcome = `🤖 *Bienvenido al Asistente Virtual de XoFi*

Soy tu asistente virtual y estoy aquí para ayudarte con:

📋 Consultas sobre tu cuenta y préstamos
💰 Estado de cuenta y pagos
🎫 Soporte técnico
📄 Carga de comprobantes

Para comenzar, necesito autenticarte.

Por favor, envía tu *número de documento* y *año de nacimiento* separados por un espacio.

*Ejemplo:* 12345678 1990`

const Commands = `🤖 *Comandos Disponibles*

/start - Iniciar conversación
/help - Ver ayuda
/menu - Ver menú de opciones
/micuenta - Ver mi información
/prestamos - Ver mis préstamos
/saldo - Ver estado de cuenta

💬 *También puedes escribir tus consultas en lenguaje natural:*

Ejemplos:
• "Cuál es mi saldo?"
• "Muéstrame mis préstamos"
• "Detalle del préstamo 123"
• "Necesito ayuda con un pago"`

const Menu = `🤖 *Bienvenido al Asistente Virtual*

Puedo ayudarte con lo siguiente:

📋 *Consultas:*
• Ver mis datos personales
• Consultar estado de cuenta
• Ver mis préstamos
• Detalle de un préstamo específico

🎫 *Soporte:*
• Crear ticket de soporte
• Cargar comprobante de pago

💬 *Ejemplos de preguntas:*
• "Cuál es mi estado de cuenta?"
• "Muéstrame mis préstamos"
• "Detalle del préstamo 123"
• "Necesito ayuda con un pago"
• "Quiero subir un comprobante"

Escribe tu consulta y te ayudaré de inmediato.`

const AuthenticationPrompt = `🔐 *Autenticación requerida*

Para continuar, por favor proporciona:

1️⃣ Tu número de documento (DNI)
2️⃣ Tu año de nacimiento

*Ejemplo:* 12345678 1990

Esta información será validada en nuestro sistema.`

const (
	AuthenticationError  = "No se pudo autenticar. Verifica tu documento y año de nacimiento."
	AuthenticationLocked = "Demasiados intentos fallidos de autenticación. Por favor, intenta de nuevo más tarde."

	Goodbye = "Hasta luego! Si necesitas ayuda, aquí estaré. 👋"

	UploadReceiptInstructions = "Para cargar un comprobante de pago, por favor envía la imagen del comprobante.\n\n" +
		"Asegúrate de que la imagen sea clara y se pueda leer toda la información."

	ProcessingError = "❌ Lo siento, hubo un error al procesar tu mensaje. Por favor, intenta de nuevo."
	UnexpectedError = "❌ Ocurrió un error inesperado. Por favor, intenta de nuevo más tarde."

	CreditDetailRequest = "Por favor, indícame el número del préstamo del que deseas ver el detalle. Ejemplo: préstamo 123"

	TicketStart       = "Voy a ayudarte a crear un ticket de soporte.\n\nPor favor, describe brevemente el asunto:"
	TicketDescription = "Ahora, describe con más detalle tu problema o consulta:"
	TicketError       = "No se pudo crear el ticket."
	TicketFlowError   = "Hubo un error en el proceso."
	TicketEmptyField  = "El texto no puede estar vacío. Por favor, escríbelo nuevamente:"

	NoPartnerInfo         = "No se encontró información del socio."
	AccountStatementError = "No se pudo obtener el estado de cuenta."
	CreditsListError      = "No se pudo obtener la lista de préstamos."
	CreditDetailError     = "No se pudo obtener el detalle del préstamo."
	NoCredits             = "No tienes créditos registrados."

	ImageAuthRequired = "Por favor, autentícate primero enviando tu DNI y año de nacimiento.\n\nEjemplo: DNI 12345678 año 1990"
	ImageLinkMissing  = "❌ No se encontró el enlace de la imagen. Por favor, intenta nuevamente."
	ImageDownloadFail = "❌ No se pudo descargar la imagen. Por favor, intenta nuevamente."
	ImageInvalid      = "❌ La imagen no es válida o no se pudo leer. Por favor, envía una foto clara del comprobante."
	ReceiptUploadFail = "❌ Hubo un error al procesar tu boleta de pago. Por favor, intenta nuevamente o contacta con soporte."

	InteractiveReceived = "Mensaje interactivo recibido. Por favor usa comandos de texto."
	UnsupportedMessage  = "Lo siento, ese tipo de mensaje no es soportado. Por favor envía un mensaje de texto."

	// GenericName stands in for the partner's name before authentication.
	GenericName = "usuario"
)
