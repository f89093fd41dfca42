package session

import (
	"strconv"
	"time"
)

type SessionScopeStartedEvent struct {
	Session Session
}

type SessionScopeEndedEvent struct {
	Session Session
}

type RequestViewModel struct {
	TimeStart    time.Time
	Label        string
	Status       *int
	ResponseTime *time.Duration
	Err          error
}

func (r RequestViewModel) String() string {
	if r.Status != nil {
		return r.Label + "." + strconv.Itoa(*r.Status)
	}
	return r.Label
}

type RequestStartedEvent struct {
	Session     Session
	Sender      any
	RequestView *RequestViewModel
}

type RequestEndedEvent struct {
	Session     Session
	Sender      any
	RequestView *RequestViewModel
}
