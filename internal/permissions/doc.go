// Package permissions answers whether the engine has the OS grants it needs.
//
// keymapd never requests a grant itself; it only asks. Each Kind has an
// optional probe command whose exit status is the answer. CachedChecker
// keeps answers for a few seconds so the supervisor's polling stays cheap.
package permissions
