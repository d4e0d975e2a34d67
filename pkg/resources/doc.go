/*
Package resources discovers and reads template source text.

A Provider enumerates resource locations and opens them. Locations are
slash-separated and absolute ("/templates/page.dust"). Two providers ship with
the package: FSProvider, which serves any fs.FS (a directory on disk, an
embedded file system or an in-memory fstest.MapFS), and SQLStore, which keeps
templates in a SQLite table under the virtual prefix "/db/". Chain combines
several providers into one.

Patterns select locations. A "*" stands for any substring, including "/"; every
other character is literal and the whole location must match:

	/templates/*.dust   matches /templates/page.dust and /templates/a/b.dust
	/templates/page.dust  matches only itself

ReadString reads a resource as UTF-8. A leading byte order mark is stripped and
ill-formed bytes are replaced with U+FFFD. Failures are reported as *ReadError.
*/
package resources
