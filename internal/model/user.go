// Package model はドメインモデルを定義する。
package model

import "github.com/google/uuid"

// User はディレクトリに登録されたユーザーを表す。
// IDは作成後に変更しない。一意性は永続化層が保証する。
type User struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"fullName"`
}
