package harness

import _ "embed"

// viewerHTML is the render harness page. It fetches /test.pdf, renders
// every page with pdf.js at a fixed integer scale, appends each canvas
// plus a page-number label to #viewer in page order, then flips the
// completion markers on <body>:
//
//	data-render-complete="true"   all pages rendered
//	data-page-count="N"           total page count
//	data-render-error="true"      rendering threw
//	data-error-text="..."         the error message
//
// The driver in package render polls these attributes; they are the only
// channel between the harness and the test side.
//
//go:embed viewer.html
var viewerHTML string
