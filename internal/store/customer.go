package store

import (
	"encoding/json"
	"fmt"

	"github.com/parleyhq/parley/internal/models"
	"gorm.io/gorm"
)

// TagCustomer appends a tag to the customer's tag list. Idempotent: an
// already-present tag is left alone.
func TagCustomer(db *gorm.DB, customerID uint, tag string) error {
	if tag == "" {
		return fmt.Errorf("store: tag is required")
	}
	return db.Transaction(func(tx *gorm.DB) error {
		var customer models.Customer
		if err := tx.First(&customer, customerID).Error; err != nil {
			return fmt.Errorf("store: customer %d: %w", customerID, err)
		}

		var tags []string
		if customer.Tags != "" {
			if err := json.Unmarshal([]byte(customer.Tags), &tags); err != nil {
				tags = nil
			}
		}
		for _, t := range tags {
			if t == tag {
				return nil
			}
		}
		tags = append(tags, tag)
		data, err := json.Marshal(tags)
		if err != nil {
			return fmt.Errorf("store: marshal tags: %w", err)
		}
		return tx.Model(&models.Customer{}).Where("id = ?", customerID).
			Update("tags", string(data)).Error
	})
}

// SaveCustomerField writes a free-form attribute onto the customer record,
// overwriting any previous value for the field.
func SaveCustomerField(db *gorm.DB, customerID uint, field, value string) error {
	if field == "" {
		return fmt.Errorf("store: field is required")
	}
	return db.Transaction(func(tx *gorm.DB) error {
		var customer models.Customer
		if err := tx.First(&customer, customerID).Error; err != nil {
			return fmt.Errorf("store: customer %d: %w", customerID, err)
		}

		attrs := map[string]string{}
		if customer.Attributes != "" {
			if err := json.Unmarshal([]byte(customer.Attributes), &attrs); err != nil {
				attrs = map[string]string{}
			}
		}
		attrs[field] = value
		data, err := json.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("store: marshal attributes: %w", err)
		}
		return tx.Model(&models.Customer{}).Where("id = ?", customerID).
			Update("attributes", string(data)).Error
	})
}
