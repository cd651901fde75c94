package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/trezcool/karibu/core"
	"github.com/trezcool/karibu/core/progress"
)

type (
	// CompleteItemRequest carries the point value to award for a module/quiz
	// completion. For catalog modules the server-side catalog value wins;
	// the body value only applies to items the catalog does not know.
	CompleteItemRequest struct {
		PointValue int `json:"point_value" validate:"gte=0"`
	}

	OutcomeResponse struct {
		Outcome string `json:"outcome"`
	}
)

func (r *CompleteItemRequest) Validate() error { return core.Validate.Struct(r) }

// bindItemRequest tolerates an empty body; the zero request is valid.
func bindItemRequest(ctx echo.Context) (*CompleteItemRequest, error) {
	data := new(CompleteItemRequest)
	if ctx.Request().ContentLength > 0 {
		if err := ctx.Bind(data); err != nil {
			return nil, err
		}
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	return data, nil
}

// itemID validates the :id path param (module/quiz/badge ids are slugs).
func itemID(ctx echo.Context) (string, error) {
	id := core.CleanString(ctx.Param("id"), true /* lower */)
	if err := core.Validate.Var(id, "required,slug"); err != nil {
		return "", core.NewValidationError(nil, core.FieldError{Field: "id", Error: "invalid id"})
	}
	return id, nil
}

func newOutcomeResponse(out progress.Outcome) OutcomeResponse {
	return OutcomeResponse{Outcome: out.String()}
}
