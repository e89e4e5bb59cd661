package dispatcher

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// SoftError is returned to the client as an error reply; the session
// continues (§4.6, §7).
type SoftError struct {
	Code     int32
	CodeName string
	Msg      string
}

func (e *SoftError) Error() string { return fmt.Sprintf("%s: %s", e.CodeName, e.Msg) }

func newSoftError(codeName, msg string) *SoftError {
	return &SoftError{CodeName: codeName, Msg: msg}
}

// HardError is returned to the client, and additionally populates the
// session's last-error slot for a subsequent getLastError (§4.6, §7).
type HardError struct {
	Msg string
}

func (e *HardError) Error() string { return fmt.Sprintf("HARD_ERROR: %s", e.Msg) }

// MariaDBError wraps a relational-engine error, preserving its
// original numeric code and message (§4.6, §7).
type MariaDBError struct {
	Code int
	Msg  string
}

func (e *MariaDBError) Error() string { return fmt.Sprintf("MARIADB_ERROR %d: %s", e.Code, e.Msg) }

// ErrorDocument builds the reply body every soft error produces
// (§7 "User-visible behavior"), fields always in a fixed order:
// {ok: 0, errmsg, code, codeName}.
func ErrorDocument(err error) bson.D {
	switch e := err.(type) {
	case *SoftError:
		return errorDoc(e.Msg, e.Code, e.CodeName)
	case *MariaDBError:
		return errorDoc(e.Msg, int32(e.Code), "MariaDBError")
	case *HardError:
		return errorDoc(e.Msg, -1, "InternalError")
	default:
		return errorDoc(err.Error(), -1, "InternalError")
	}
}

func errorDoc(msg string, code int32, codeName string) bson.D {
	return bson.D{
		{Key: "ok", Value: float64(0)},
		{Key: "errmsg", Value: msg},
		{Key: "code", Value: code},
		{Key: "codeName", Value: codeName},
	}
}
