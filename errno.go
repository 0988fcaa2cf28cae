// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xlfacility

import "syscall"

// syscallErrnoString renders an errno value the way strerror(3) would, for
// the "%E" formatter specifier. errno 0 is never called through here (see
// writeSpecifier's guard).
func syscallErrnoString(errno int) string {
	return syscall.Errno(errno).Error()
}
