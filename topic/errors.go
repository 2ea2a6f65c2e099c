// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package topic

import "errors"

var errNoProvider = errors.New("topic: no provider accepted the request before timeout")
