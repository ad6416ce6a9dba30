// Package pdf downloads paper PDFs and wraps the poppler command line tools
// used to read them: pdftotext for the text layer and pdftoppm for page
// images.
package pdf
