// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package overlay

import "errors"

// ErrUnbalancedTransaction is raised when CommitTransaction or
// RollbackTransaction is called with no matching StartTransaction open.
// It is used as a panic payload: an unbalanced transaction pair is a
// caller bug, not a recoverable condition.
var ErrUnbalancedTransaction = errors.New("overlay: unbalanced transaction: commit/rollback called at depth 0")

// ErrIncompatibleChildInfo is raised when two ChildInfo values claiming
// the same storage key disagree on child type.
var ErrIncompatibleChildInfo = errors.New("overlay: incompatible child info for storage key")

// ErrDrainAtNonZeroDepth is raised when a caller attempts to drain
// committed changes while a transaction is still open.
var ErrDrainAtNonZeroDepth = errors.New("overlay: cannot drain storage changes with an open transaction")
