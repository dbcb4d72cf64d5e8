package repository

import (
	"ChatRelay/entity"
	"context"
	"fmt"
)

// digitsOnly strips the usual phone formatting characters inside SQL so stored
// numbers like "+44 (7700) 900-123" compare by digits.
func digitsOnly(column string) string {
	expr := "COALESCE(" + column + ", '')"
	for _, ch := range []string{" ", "-", "(", ")", "+", "."} {
		expr = "REPLACE(" + expr + ", '" + ch + "', '')"
	}
	return expr
}

var customerByPhoneQuery = `
	SELECT CAST(id AS CHAR), name, COALESCE(phone, ''), COALESCE(mobile, '')
	FROM customers
	WHERE ` + digitsOnly("phone") + ` LIKE ? OR ` + digitsOnly("mobile") + ` LIKE ?
	LIMIT 10`

// FindCustomersByPhoneSuffix returns customers whose phone or mobile ends with suffix digits.
func (s *SQLDB) FindCustomersByPhoneSuffix(ctx context.Context, suffix string) ([]entity.Customer, error) {
	pattern := "%" + suffix
	rows, err := s.db.QueryContext(ctx, customerByPhoneQuery, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("find customers by phone: %w", err)
	}
	defer rows.Close()

	var customers []entity.Customer
	for rows.Next() {
		var c entity.Customer
		if err = rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Mobile); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}
