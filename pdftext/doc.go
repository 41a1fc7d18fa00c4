// Package pdftext extracts plain text from uploaded files.
//
// PDFs are read page by page with UniPDF (github.com/unidoc/unipdf/v3). UniPDF
// requires a metered license key, read from UNIDOC_LICENSE_KEY unless given
// explicitly. Pages that fail to extract are logged and skipped.
package pdftext
