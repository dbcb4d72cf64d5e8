package cont

import (
	"ChatRelay/entity"
	"context"
	"errors"
)

type ctxKey string

const staffKey ctxKey = "staff"

func PutStaff(c context.Context, staff *entity.StaffSession) context.Context {
	return context.WithValue(c, staffKey, staff)
}

func GetStaff(c context.Context) (*entity.StaffSession, error) {
	staff, ok := c.Value(staffKey).(*entity.StaffSession)
	if !ok || staff == nil {
		return nil, errors.New("staff not found in context")
	}
	return staff, nil
}
