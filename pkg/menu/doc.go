// Package menu loads the restaurant catalog, keeps it fresh while the file
// changes, and exposes it to agents through the get_menu and
// send_menu_images tools.
package menu
