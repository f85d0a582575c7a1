package models

import "time"

// Product is a catalog title. The catalog is read-only from the point of
// view of checkout: it is only used to freeze the order snapshot.
type Product struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)" validate:"omitempty,uuid"`
	Title     string    `json:"title" gorm:"size:255;not null" validate:"required,min=1,max=255"`
	Author    string    `json:"author" gorm:"size:255"`
	ISBN      string    `json:"isbn" gorm:"size:20;index" validate:"omitempty,min=10,max=17"`
	CoverURL  string    `json:"cover_url" gorm:"size:500"`
	Price     Money     `json:"price" validate:"gt=0"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
