package handler

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

// maxFullNameLength はfullNameの最大文字数。
const maxFullNameLength = 200

// createUserRequest はユーザー作成リクエストのボディ。
// idを省略した場合はサーバー側でUUIDを採番する。
type createUserRequest struct {
	ID       string `json:"id" validate:"omitempty,uuid"`
	FullName string `json:"fullName" validate:"required,max=200,nomarkup"`
}

// requestValidator はリクエストボディの検証を行う。
type requestValidator struct {
	validate *validator.Validate
	policy   *bluemonday.Policy
}

// newRequestValidator はnomarkupタグを登録したrequestValidatorを生成する。
func newRequestValidator() *requestValidator {
	rv := &requestValidator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		policy:   bluemonday.StrictPolicy(),
	}
	// 登録に失敗するのはタグ名が不正な場合のみ
	_ = rv.validate.RegisterValidation("nomarkup", func(fl validator.FieldLevel) bool {
		return !rv.containsMarkup(fl.Field().String())
	})
	return rv
}

// containsMarkup はStrictPolicyで除去される要素が含まれているかを判定する。
// エスケープの差分は無視し、タグやコメントが取り除かれた場合のみtrueを返す。
func (rv *requestValidator) containsMarkup(s string) bool {
	return html.UnescapeString(rv.policy.Sanitize(s)) != s
}

// validateCreate は作成リクエストを正規化して検証する。
// 不正な場合はクライアント向けの理由を返す。
func (rv *requestValidator) validateCreate(req *createUserRequest) error {
	req.ID = strings.ToLower(strings.TrimSpace(req.ID))
	req.FullName = strings.TrimSpace(req.FullName)

	err := rv.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	switch fe.Field() + "." + fe.Tag() {
	case "ID.uuid":
		return errors.New("id must be a UUID")
	case "FullName.required":
		return errors.New("fullName is required")
	case "FullName.max":
		return fmt.Errorf("fullName must be at most %d characters", maxFullNameLength)
	case "FullName.nomarkup":
		return errors.New("fullName must not contain markup")
	default:
		return fmt.Errorf("%s is invalid", fe.Field())
	}
}
