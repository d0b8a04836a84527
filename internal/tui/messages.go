package tui

import (
	"github.com/mmcdole/folio/internal/library"
	"github.com/mmcdole/folio/internal/service"
)

// booksLoadedMsg delivers a finished library scan
type booksLoadedMsg struct {
	books []library.Book
}

// scanErrMsg reports a failed library scan
type scanErrMsg struct {
	err error
}

// bookOpenedMsg delivers an opened reader session
type bookOpenedMsg struct {
	session *service.ReaderSession
}

// openErrMsg reports a failed book open
type openErrMsg struct {
	err error
}

// jumpDoneMsg signals that a programmatic position change has settled
type jumpDoneMsg struct{}
