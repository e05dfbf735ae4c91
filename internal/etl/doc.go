// Package etl models records that live in a remote service.
//
// A Schema declares the fields of one remote entity type. Each Field knows how
// to pull its raw value out of a payload and how to normalize it. An Object is
// one entity: a bag of field values plus the values it held when it was last
// synced with the remote side, which is what IsEdited compares against.
//
// Remote operations are split into small capability interfaces. A client
// implements only the capabilities its API offers (Lister, Creator, Retriever,
// Updater, Deleter) and a Resource delegates to whichever of them it has:
//
//	res := etl.NewResource(articleSchema, apiClient)
//
//	obj, created, err := etl.GetOrCreate(ctx, res,
//	    map[string]any{"title": "Draft"},
//	    map[string]any{"slug": "hello-world"},
//	)
//
// Listing is lazy. Resource.List returns an Iterator that fetches one page at
// a time and follows the continuation returned with each page:
//
//	it := res.List(ctx, etl.Query{"status": "published"})
//	for it.Next() {
//	    fmt.Println(it.Object().MustGet("title"))
//	}
//	if err := it.Err(); err != nil {
//	    return err
//	}
package etl
