package entity

import "time"

// StaffSession is an authenticated browser session read from the HTTP session store.
type StaffSession struct {
	SID     string    `json:"sid"`
	UserID  string    `json:"user_id"`
	Expires time.Time `json:"expires"`
}

// HttpSession is a raw row of the shared HTTP session store.
type HttpSession struct {
	SID     string
	Data    []byte
	Expires time.Time
}
