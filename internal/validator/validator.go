package validator

import (
	"errors"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// trans translates validation failures into English messages.
var trans ut.Translator

// Setup wires the nickname rule and English error translations into
// Gin's binding engine. Call once during startup, before the router.
func Setup() {
	v, ok := binding.Validator.Engine().(*govalidator.Validate)
	if !ok {
		return
	}

	// Error messages name fields by their JSON tag.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("nickname", func(fl govalidator.FieldLevel) bool {
		return NicknameValid(fl.Field().String())
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ = uni.GetTranslator("en")
	en_translations.RegisterDefaultTranslations(v, trans)
}

// NicknameValid checks the nickname charset and length rules: 1-24
// characters, letters, digits and single spaces, no leading or
// trailing space. Length counts runes, not bytes.
func NicknameValid(name string) bool {
	if n := utf8.RuneCountInString(name); n < 1 || n > 24 {
		return false
	}
	if strings.HasPrefix(name, " ") || strings.HasSuffix(name, " ") || strings.Contains(name, "  ") {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ' ' {
			return false
		}
	}
	return true
}

// NicknameClean reports whether the nickname avoids every word on the
// lowercase block list.
func NicknameClean(name string, blockList []string) bool {
	lower := strings.ToLower(name)
	for _, word := range blockList {
		if word != "" && strings.Contains(lower, word) {
			return false
		}
	}
	return true
}

// TranslateErrors flattens a binding error into field name -> message.
// A non-validation error, such as malformed JSON, lands under the
// single "detail" key.
func TranslateErrors(err error) map[string]string {
	var ve govalidator.ValidationErrors
	if !errors.As(err, &ve) {
		return map[string]string{"detail": err.Error()}
	}

	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = fe.Translate(trans)
	}
	return fields
}

// Bind decodes the JSON body into dst and validates it. It returns nil
// on success, otherwise the translated field error map.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
