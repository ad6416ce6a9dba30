// Package deliver mails the rendered digest.
//
// The Markdown digest forms the message body; the configured formats are
// attached. Attachments over the size limit are skipped and reported rather
// than failing the delivery. Port 465 uses implicit TLS, any other port
// upgrades with STARTTLS when the server offers it.
package deliver
