package asset

import "errors"

var (
	ErrAssetNotFound      = errors.New("asset not found")
	ErrNotOwner           = errors.New("not the owner of this asset")
	ErrNotReprocessable   = errors.New("asset is not in a reprocessable state")
	ErrDerivativeNotFound = errors.New("derivative not found")
)
