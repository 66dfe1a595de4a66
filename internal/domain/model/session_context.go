package model

// TimestampBucketMs is the granularity Record.Timestamp is floored to.
const TimestampBucketMs = 10 * 60 * 1000

// SessionContext is the server-provided context a sampling decision needs.
type SessionContext struct {
	SampleRate float64 `json:"data_sample_rate"`
	// ServerTime is epoch milliseconds.
	ServerTime int64 `json:"server_time"`
}

// Environment describes the page the dialog runs in.
type Environment struct {
	Lang       string
	ScreenSize *ScreenSize
}

// Upload is a record handed to the publish pipeline. Done is called
// exactly once with the outcome.
type Upload struct {
	Record *Record
	Done   func(ok bool)
}

// Finish calls Done if set.
func (u Upload) Finish(ok bool) {
	if u.Done != nil {
		u.Done(ok)
	}
}
