// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pbzx

import "errors"

var (
	errBadMagic = errors.New("pbzx: bad magic")
	errShortXZ  = errors.New("pbzx: xz chunk decoded to the wrong length")
)
