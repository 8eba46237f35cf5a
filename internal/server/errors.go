package server

import "github.com/rotisserie/eris"

var (
	errBadSecret        = eris.New("server: webhook secret mismatch")
	errCheckNotRecorded = eris.New("check result was not recorded")
)
