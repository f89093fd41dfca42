package result

import "errors"

var (
	ErrLastInsertIdUnsupported = errors.New("LastInsertId is not supported by this driver")
	ErrRowsAffectedUnsupported = errors.New("RowsAffected is not supported by INSERT ... RETURNING")
)

func NewResult(lastInsertId, rowsAffected int64) ResultImp {
	return ResultImp{lastInsertId, rowsAffected}
}

type ResultImp struct {
	lastInsertId int64
	rowsAffected int64
}

func (r ResultImp) LastInsertId() (int64, error) {
	if r.rowsAffected == 0 {
		return r.lastInsertId, nil
	}
	return 0, ErrLastInsertIdUnsupported
}

func (r ResultImp) RowsAffected() (int64, error) {
	if r.lastInsertId == 0 {
		return r.rowsAffected, nil
	}
	return 0, ErrRowsAffectedUnsupported
}
