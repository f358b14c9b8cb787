package errors

import stderrors "errors"

func stdIs(err, target error) bool { return stderrors.Is(err, target) }
