/*
Package dust embeds a dust-compatible templating runtime and exposes it through
a narrow Go surface: Compile, Load, Exists, Execute and Reset.

The runtime's own source ships with the package (see BootstrapPath) and is
evaluated once per Runtime. Templates are compiled into executable JS text,
registered in the runtime's cache, and rendered against JSON input.

Supported markup:

	{name} {a.b.c} {.}           references, HTML-escaped by default
	{name|s} {name|j|s}          filters: h s j u uc js jp, plus registered ones
	{#list}..{:else}..{/list}    sections (iterate arrays, descend into objects)
	{?key}..{/key} {^key}..{/key} exists / not-exists
	{>partial/} {>"{dyn}"/}      partials, with optional :context and params
	{<name}..{/name} {+name/}    inline partials and blocks
	{@sep}, {/sep} {@idx}{.}{/idx}    helpers (inside sections)
	{$idx} {$len}                iteration position
	{~n} {~r} {~s} {~lb} {~rb}   specials
	{! comment !}                comments

Whitespace is preserved exactly as written.
*/
package dust
