/*
Package templating compiles, caches and renders named dust templates.

An Engine ties a resources.Provider, which supplies template source text, to a
Runtime, which compiles and renders it. The production runtime is the embedded
dust interpreter from package dust; New wires the two together:

	provider := resources.NewDirProvider("templates")
	engine, err := templating.New(logger, provider, templating.DefaultConfig())
	if err != nil {
		return err
	}
	defer engine.Close()

	report, err := engine.Init(ctx)
	// report.Failures lists resources that were skipped.

	err = engine.Render("page.dust", `{"name": "Mick"}`, w)

Init loads every location matched by the configured patterns and registers it
under the last segment of its location, so "/templates/page.dust" becomes
"page.dust". Templates that fail to read or compile are logged and skipped.

Render is fail-fast: output is produced completely before it is written, and a
failed render writes nothing and returns an *EvaluationError. Reset forgets all
templates; Refresh resets and loads the patterns again.

Besides the dust built-ins, templates can use the filters |upper, |lower,
|title and |trim.
*/
package templating
