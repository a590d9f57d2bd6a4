package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/form/v4"
	"github.com/go-playground/validator/v10"
)

const maxFormMemory = 1 << 20

var errPayloadTooLarge = errors.New("request body too large")

var requestValidator = newRequestValidator()

var formDecoder = newFormDecoder()

func newFormDecoder() *form.Decoder {
	d := form.NewDecoder()
	d.SetTagName("form")
	return d
}

// normalizer is implemented by request bodies that clean up their fields
// before validation.
type normalizer interface {
	normalize()
}

// newRequestValidator reports fields by their JSON name.
func newRequestValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeRequest fills dst from a JSON, urlencoded or multipart body and
// validates it. Form fields are matched against the `form` struct tag.
func decodeRequest(r *http.Request, dst any) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return bodyError(err, "invalid form body")
		}
		if err := bindForm(r.PostForm, dst); err != nil {
			return err
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			return bodyError(err, "invalid form body")
		}
		if err := bindForm(r.MultipartForm.Value, dst); err != nil {
			return err
		}
	default:
		if err := decodeJSON(r.Body, dst); err != nil {
			return err
		}
	}

	if n, ok := dst.(normalizer); ok {
		n.normalize()
	}
	return validateRequest(dst)
}

func decodeJSON(body io.Reader, dst any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return bodyError(err, "invalid JSON body")
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bodyError(err error, message string) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errPayloadTooLarge
	}
	return errors.New(message)
}

// writeDecodeError reports a body that failed decodeRequest.
func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errPayloadTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "Request body too large")
		return
	}
	badRequest(w, err.Error())
}

func bindForm(values url.Values, dst any) error {
	if err := formDecoder.Decode(dst, values); err != nil {
		return errors.New("invalid form body")
	}
	return nil
}

func validateRequest(dst any) error {
	err := requestValidator.Struct(dst)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		first := validationErrors[0]
		field := first.Field()
		switch first.Tag() {
		case "required":
			return fmt.Errorf("%s is required", field)
		case "email":
			return fmt.Errorf("invalid email format")
		case "len":
			return fmt.Errorf("invalid %s length", field)
		case "numeric":
			return fmt.Errorf("%s must contain only digits", field)
		case "max":
			return fmt.Errorf("%s is too long", field)
		default:
			return fmt.Errorf("invalid %s", field)
		}
	}

	return fmt.Errorf("invalid request payload")
}
